package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pingerFunc адаптирует функцию к интерфейсу Pinger.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthHandler_Health(t *testing.T) {
	logger := setupTestLogger()
	db := pingerFunc(func(ctx context.Context) error { return nil })
	handler := NewHealthHandler(logger, db, "1.2.3")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	resp := w.Result()
	defer func() {
		err := resp.Body.Close()
		assert.NoError(t, err)
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var healthResp HealthResponse
	err := json.NewDecoder(resp.Body).Decode(&healthResp)
	require.NoError(t, err)

	assert.Equal(t, "ok", healthResp.Status)
	assert.Equal(t, "1.2.3", healthResp.Version)
}

func TestHealthHandler_Health_DatabaseUnavailable(t *testing.T) {
	logger := setupTestLogger()
	db := pingerFunc(func(ctx context.Context) error {
		return errors.New("database is locked")
	})
	handler := NewHealthHandler(logger, db, "1.2.3")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var healthResp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&healthResp))
	assert.Equal(t, "degraded", healthResp.Status)
}
