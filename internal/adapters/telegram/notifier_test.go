package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cryptoMarginBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing purposes.
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestNotifier(t *testing.T, handler http.HandlerFunc) *Notifier {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	n, err := New(Config{
		BotToken: "123:SECRET",
		ChatID:   "-100200300",
		BaseURL:  server.URL,
		Timeout:  2 * time.Second,
		Logger:   &mockLogger{},
	})
	require.NoError(t, err)
	return n
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{BotToken: "t", ChatID: "c"})
	assert.Error(t, err)

	_, err = New(Config{ChatID: "c", Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = New(Config{BotToken: "t", Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestNotifyDelivers(t *testing.T) {
	var got sendMessageRequest
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bot123:SECRET/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	})

	err := n.Notify(context.Background(), "*ETH/BTC* position opened")
	require.NoError(t, err)
	assert.Equal(t, "-100200300", got.ChatID)
	assert.Equal(t, "*ETH/BTC* position opened", got.Text)
	assert.Equal(t, "Markdown", got.ParseMode)
}

func TestNotifyRateLimited(t *testing.T) {
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5"}`))
	})

	err := n.Notify(context.Background(), "spam")
	assert.ErrorIs(t, err, ports.ErrRateLimited)
}

func TestNotifyRejected(t *testing.T) {
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	})

	err := n.Notify(context.Background(), "hello")
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestNotifyTransportFailures(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		n, err := New(Config{BotToken: "t", ChatID: "c", BaseURL: url, Logger: &mockLogger{}})
		require.NoError(t, err)

		err = n.Notify(context.Background(), "down")
		assert.ErrorIs(t, err, ports.ErrConnectionFailed)
	})

	t.Run("context canceled", func(t *testing.T) {
		n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ok":true}`))
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := n.Notify(ctx, "late")
		assert.ErrorIs(t, err, ports.ErrContextCanceled)
	})
}

func TestNotifyGarbageResponse(t *testing.T) {
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway error</html>`))
	})

	err := n.Notify(context.Background(), "hello")
	assert.ErrorIs(t, err, ports.ErrUnknown)
}
