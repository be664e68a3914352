package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMarkdown(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "✅",
		Title: "回测完成 run-1",
		Sections: []MessageSection{
			Section("Report", "Starting Portfolio Value: 1000.00\n\nFinal Portfolio Value: 1003.00\n"),
			{Title: "empty", Lines: []string{"  "}},
			{Title: "Extras", Lines: []string{"Sharpe: 1.20 ```"}},
		},
		Footer:    "AAPL 1d",
		Timestamp: time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC),
	}
	out := msg.RenderMarkdown()
	assert.True(t, strings.HasPrefix(out, "✅ 回测完成 run-1\n\n```\nReport\n- Starting Portfolio Value: 1000.00\n- Final Portfolio Value: 1003.00\n"))
	assert.NotContains(t, out, "empty")
	assert.Contains(t, out, "- Sharpe: 1.20 '''")
	assert.Equal(t, 2, strings.Count(out, "```"))
	assert.True(t, strings.HasSuffix(out, "时间：2021-01-04 00:00:00 UTC"))

	assert.Empty(t, StructuredMessage{}.RenderMarkdown())
}

func TestTelegramSendText(t *testing.T) {
	var calls int32
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.APIBase = srv.URL
	tg.Backoff = time.Millisecond
	require.NoError(t, tg.SendText("hello"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
}

func TestTelegramStopsOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg := NewTelegram("bad", "42")
	tg.APIBase = srv.URL
	tg.Backoff = time.Millisecond
	err := tg.SendText("hello")
	assert.EqualError(t, err, "telegram status=401")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.Error(t, (&Telegram{}).SendText("x"))
}
