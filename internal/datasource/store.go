package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradesim/internal/market"

	_ "modernc.org/sqlite"
)

// Manifest 记录某个 symbol@interval 缓存文件的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol" yaml:"symbol"`
	Interval   string `json:"interval" yaml:"interval"`
	MinTime    int64  `json:"min_time" yaml:"min_time"`
	MaxTime    int64  `json:"max_time" yaml:"max_time"`
	Rows       int64  `json:"rows" yaml:"rows"`
	LastSyncAt int64  `json:"last_sync_at" yaml:"last_sync_at"`
	Source     string `json:"source" yaml:"source"`
	Path       string `json:"path" yaml:"path"`
	// CoveredFrom/CoveredTo 为最近一次拉取请求覆盖的区间（毫秒），
	// 休市日没有 K 线，因此不能用 MinTime/MaxTime 判断命中。
	CoveredFrom int64 `json:"covered_from" yaml:"covered_from"`
	CoveredTo   int64 `json:"covered_to" yaml:"covered_to"`
}

// Covers reports whether a previous fetch already spanned [start, end].
func (m Manifest) Covers(start, end int64) bool {
	if m.Rows == 0 || m.CoveredTo == 0 {
		return false
	}
	return m.CoveredFrom <= start && m.CoveredTo >= end
}

// Store 按 symbol@interval 分文件缓存 K 线，每个文件一个 sqlite 库。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol, interval string) (*sql.DB, string, error) {
	if symbol == "" || interval == "" {
		return nil, "", fmt.Errorf("symbol/interval 不能为空")
	}
	key := strings.ToUpper(symbol) + "@" + strings.ToLower(interval)
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.dbPath(symbol, interval)
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, symbol, interval); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(symbol, interval string) string {
	dir := filepath.Join(s.root, strings.ToUpper(symbol))
	return filepath.Join(dir, strings.ToLower(interval)+".db")
}

// InsertBars 批量写入 K 线（重复 open_time 将被覆盖），source 记录到 manifest。
func (s *Store) InsertBars(ctx context.Context, symbol, interval, source string, bars []market.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Time.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, db, source); err != nil {
		return count, err
	}
	return count, nil
}

// RangeBars 返回 [start, end] 内的全部 K 线（毫秒，闭区间，升序）；
// 0 表示该端不限制。
func (s *Store) RangeBars(ctx context.Context, symbol, interval string, start, end int64) ([]market.Bar, error) {
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return nil, err
	}
	if start > 0 && end > 0 && end < start {
		start, end = end, start
	}
	if end <= 0 {
		end = 1<<62 - 1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM bars
		WHERE open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Bar
	for rows.Next() {
		var (
			ts  int64
			bar market.Bar
		)
		if err := rows.Scan(&ts, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, err
		}
		bar.Time = time.UnixMilli(ts).UTC()
		list = append(list, bar)
	}
	return list, rows.Err()
}

// LoadOpenTimes 返回指定区间内已有的 open_time。
func (s *Store) LoadOpenTimes(ctx context.Context, symbol, interval string, start, end int64) ([]int64, error) {
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT open_time FROM bars WHERE open_time BETWEEN ? AND ? ORDER BY open_time`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *Store) Manifest(ctx context.Context, symbol, interval string) (Manifest, error) {
	db, path, err := s.db(symbol, interval)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT symbol, interval, COALESCE(min_time,0), COALESCE(max_time,0), COALESCE(rows,0),
		       COALESCE(last_sync_at,0), COALESCE(source,''), COALESCE(covered_from,0), COALESCE(covered_to,0)
		FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Symbol, &m.Interval, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt, &m.Source, &m.CoveredFrom, &m.CoveredTo); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

// MarkCovered 记录 [start, end] 已拉取；与已有区间相交时合并，否则替换。
func (s *Store) MarkCovered(ctx context.Context, symbol, interval string, start, end int64) error {
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE manifest
		SET covered_from = CASE
		        WHEN covered_to IS NULL OR covered_to = 0 OR covered_to < ? OR covered_from > ? THEN ?
		        ELSE MIN(covered_from, ?) END,
		    covered_to = CASE
		        WHEN covered_to IS NULL OR covered_to = 0 OR covered_to < ? OR covered_from > ? THEN ?
		        ELSE MAX(covered_to, ?) END
		WHERE id = 1`, start, end, start, start, start, end, end, end)
	return err
}

// Gap 表示缓存中缺失的一段连续 K 线。
type Gap struct {
	From    time.Time `json:"from" yaml:"from"`
	To      time.Time `json:"to" yaml:"to"`
	Missing int64     `json:"missing" yaml:"missing"`
}

// Integrity 汇总缓存区间的完整度。
type Integrity struct {
	Manifest Manifest `json:"manifest" yaml:"manifest"`
	Expected int64    `json:"expected" yaml:"expected"`
	Present  int64    `json:"present" yaml:"present"`
	Gaps     []Gap    `json:"gaps,omitempty" yaml:"gaps,omitempty"`
}

// Verify 对比 [start, end] 区间内的实际行数与连续市场的理论行数。
// 股票等非连续市场会因休市产生大量缺口，只作参考。
func (s *Store) Verify(ctx context.Context, symbol string, iv market.Interval, start, end time.Time) (Integrity, error) {
	m, err := s.Manifest(ctx, symbol, iv.Key)
	if err != nil {
		return Integrity{}, err
	}
	lo, hi := start.UnixMilli(), end.UnixMilli()
	if start.IsZero() {
		lo = m.MinTime
	}
	if end.IsZero() {
		hi = m.MaxTime
	}
	lo, hi = iv.AlignRange(lo, hi)
	times, err := s.LoadOpenTimes(ctx, symbol, iv.Key, lo, hi)
	if err != nil {
		return Integrity{}, err
	}
	out := Integrity{
		Manifest: m,
		Expected: iv.ExpectedBars(lo, hi),
		Present:  int64(len(times)),
	}
	if m.Rows == 0 {
		return out, nil
	}
	step := iv.Duration.Milliseconds()
	cursor := lo
	for _, ts := range times {
		if ts > cursor {
			out.Gaps = append(out.Gaps, gapBetween(cursor, ts-step, step))
		}
		cursor = ts + step
	}
	if cursor <= hi {
		out.Gaps = append(out.Gaps, gapBetween(cursor, hi, step))
	}
	return out, nil
}

func gapBetween(from, to, step int64) Gap {
	return Gap{
		From:    time.UnixMilli(from).UTC(),
		To:      time.UnixMilli(to).UTC(),
		Missing: (to-from)/step + 1,
	}
}

func (s *Store) refreshManifest(ctx context.Context, db *sql.DB, source string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM bars),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM bars),
		    rows = (SELECT COUNT(1) FROM bars),
		    last_sync_at = ?,
		    source = CASE WHEN ? = '' THEN source ELSE ? END
		WHERE id = 1`, now, source, source)
	return err
}

func ensureSchema(db *sql.DB, symbol, interval string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			open_time   INTEGER PRIMARY KEY,
			open        REAL NOT NULL,
			high        REAL NOT NULL,
			low         REAL NOT NULL,
			close       REAL NOT NULL,
			volume      REAL NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			interval TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER,
			source TEXT DEFAULT '',
			covered_from INTEGER DEFAULT 0,
			covered_to INTEGER DEFAULT 0
		);`,
		`INSERT INTO manifest (id, symbol, interval) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, interval=excluded.interval;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, strings.ToUpper(symbol), strings.ToLower(interval))
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
