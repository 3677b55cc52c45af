package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/auth"
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
)

func TestRouter(t *testing.T) {
	reg := newMetricsRegistry()
	eng := engine.New(engine.NewMetrics(metricsNamespace, reg), slog.Default())
	r := newRouter(eng, agent.NewRegistry(nil), reg, nil)

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/metrics", http.StatusOK, "go_goroutines"},
		{"/api/schedulers", http.StatusOK, `"data":[]`},
		{"/api/schedulers/daily_checkin", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestRouterRequiresOperatorToken(t *testing.T) {
	reg := prometheus.NewRegistry()
	eng := engine.New(engine.NewMetrics(metricsNamespace, reg), slog.Default())
	svc := auth.NewService("ops-secret", time.Hour)
	r := newRouter(eng, agent.NewRegistry(nil), reg, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/schedulers", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	token, err := svc.Issue("oncall")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/schedulers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("BOTSCHED_AUTH_JWT_SECRET", "ops-secret")
	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	tokenOperator = "oncall"

	var out bytes.Buffer
	tokenCmd.SetOut(&out)
	require.NoError(t, runToken(tokenCmd, nil))

	claims, err := auth.NewService("ops-secret", 0).Validate(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "oncall", claims.Operator)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.True(t, strings.HasPrefix(out.String(), "botsched "+Version))
}

func TestInitLoggerLevels(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	initLogger("debug")
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
	initLogger("bogus")
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}
