package backtesthttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradesim/internal/backtest"
	"tradesim/internal/config"
	"tradesim/internal/datasource"
	"tradesim/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// runRequestSchema 约束 POST /api/runs 的请求体，字段语义见 config.RunConfig。
const runRequestSchema = `{
  "type": "object",
  "properties": {
    "symbol": {"type": "string"},
    "interval": {"type": "string"},
    "start": {"type": "string"},
    "end": {"type": "string"},
    "starting_cash": {"type": "number", "exclusiveMinimum": 0},
    "commission_rate": {"type": "number", "minimum": 0},
    "strategy": {"type": "string"},
    "strategy_params": {"type": "object", "additionalProperties": {"type": "number"}},
    "size": {
      "type": "object",
      "properties": {
        "mode": {"enum": ["units", "percent", "all"]},
        "value": {"type": "number", "minimum": 0}
      }
    },
    "periods_per_year": {"type": "number", "minimum": 0},
    "event_log": {"type": "boolean"}
  },
  "additionalProperties": false
}`

// Server 提供回测相关的 HTTP API。
type Server struct {
	addr   string
	svc    *backtest.Service
	data   *datasource.Loader
	router *gin.Engine
	schema *jsonschema.Schema
}

// Config 描述回测 HTTP Server 的依赖。
type Config struct {
	Addr string
	Svc  *backtest.Service
	// Data 可选，提供缓存完整度查询。
	Data *datasource.Loader
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("run.schema.json", strings.NewReader(runRequestSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("run.schema.json")
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:   cfg.Addr,
		svc:    cfg.Svc,
		data:   cfg.Data,
		router: router,
		schema: schema,
	}
	s.registerRoutes()
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if m := s.svc.Metrics(); m != nil {
		s.router.GET("/metrics", gin.WrapH(m.Handler()))
	}
	api := s.router.Group("/api")
	api.GET("/strategies", s.handleStrategies)
	api.GET("/data", s.handleData)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/orders", s.handleRunOrders)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/events", s.handleRunEvents)
	api.GET("/runs/:id/equity", s.handleRunEquity)
}

type strategyView struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Defaults    map[string]float64 `json:"defaults,omitempty"`
	Schema      map[string]any     `json:"schema,omitempty"`
}

func (s *Server) handleStrategies(c *gin.Context) {
	defs := s.svc.Registry().Definitions()
	out := make([]strategyView, 0, len(defs))
	for _, d := range defs {
		out = append(out, strategyView{Name: d.Name, Description: d.Description, Defaults: d.Defaults, Schema: d.Schema})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

func (s *Server) handleData(c *gin.Context) {
	if s.data == nil || s.data.Store() == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "缓存未启用"})
		return
	}
	symbol := c.Query("symbol")
	interval := c.Query("interval")
	if symbol == "" || interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/interval 必填"})
		return
	}
	rep, err := s.data.Verify(c.Request.Context(), symbol, interval, time.Time{}, time.Time{})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"integrity": rep})
}

func (s *Server) handleRunStart(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.schema.Validate(doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req config.RunConfig
	if err := json.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.svc.Submit(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.svc.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	orders, err := s.svc.Orders(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	trades, err := s.svc.Trades(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	events, err := s.svc.Events(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleRunEquity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	points, err := s.svc.Equity(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

func statusFor(err error) int {
	if backtest.IsNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("HTTP 服务监听 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
