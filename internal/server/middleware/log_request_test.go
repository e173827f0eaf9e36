package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logLine struct {
	level string
	kv    map[string]interface{}
}

type recordLogger struct {
	mu    sync.Mutex
	lines []logLine
}

func (l *recordLogger) record(level string, keysAndValues []interface{}) {
	kv := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		kv[keysAndValues[i].(string)] = keysAndValues[i+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, logLine{level: level, kv: kv})
}

func (l *recordLogger) Debugw(msg string, kv ...interface{}) { l.record("debug", kv) }
func (l *recordLogger) Infow(msg string, kv ...interface{})  { l.record("info", kv) }
func (l *recordLogger) Warnw(msg string, kv ...interface{})  { l.record("warn", kv) }
func (l *recordLogger) Errorw(msg string, kv ...interface{}) { l.record("error", kv) }

func TestLogRequest(t *testing.T) {
	logs := &recordLogger{}
	e := echo.New()
	e.Use(LogRequest(LogRequestConfig{
		Logger: logs,
	}))
	e.POST("/lines/:line_id", func(c echo.Context) error {
		SetLogField(c.Request().Context(), "cart_mode", "local")
		SetLogField(c.Request().Context(), "cart_mode", "remote")
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "gone")
	})

	req := httptest.NewRequest(http.MethodPost, "/lines/l1", strings.NewReader(`{"quantity":2}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(httptest.NewRecorder(), req)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	require.Len(t, logs.lines, 2)

	first := logs.lines[0]
	assert.Equal(t, "info", first.level)
	assert.Equal(t, http.StatusNoContent, first.kv["status"])
	assert.Equal(t, "remote", first.kv["cart_mode"])
	assert.Equal(t, map[string]string{"line_id": "l1"}, first.kv["params"])
	assert.JSONEq(t, `{"quantity":2}`, string(first.kv["request_body"].(json.RawMessage)))

	second := logs.lines[1]
	assert.Equal(t, "warn", second.level)
	assert.Equal(t, http.StatusNotFound, second.kv["status"])
	assert.NotContains(t, second.kv, "cart_mode")
}
