package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-platform/production-engine/internal/bootstrap"
	"github.com/atelier-platform/production-engine/internal/config"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
	pkgmongo "github.com/atelier-platform/production-engine/pkg/mongodb"
	"github.com/atelier-platform/production-engine/pkg/tracing"
)

func testRouter(t *testing.T, mutate func(*config.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load("", serviceName)
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}

	router, err := newRouter(context.Background(), cfg, &bootstrap.Services{},
		metrics.New(metrics.DefaultConfig("test")), logging.NewNop(), func() error { return nil })
	require.NoError(t, err)
	return router
}

func preflight(router *gin.Engine, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Actor-ID")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouterCORSAllowsConfiguredOrigin(t *testing.T) {
	router := testRouter(t, func(cfg *config.Config) {
		cfg.Server.CORS.AllowOrigins = []string{"https://atelier.example"}
	})

	w := preflight(router, "https://atelier.example")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://atelier.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Actor-Id")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://atelier.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://atelier.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Request-Id")
}

func TestRouterCORSRejectsUnknownOrigin(t *testing.T) {
	router := testRouter(t, nil)

	w := preflight(router, "https://elsewhere.example")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterServesDocumentWithValidation(t *testing.T) {
	router := testRouter(t, func(cfg *config.Config) {
		cfg.Server.ValidateRequests = true
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/openapi.yaml", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openapi:")
}

func stubSeams(t *testing.T) {
	t.Helper()
	origTracing, origServices := initTracing, openServices
	t.Cleanup(func() {
		initTracing = origTracing
		openServices = origServices
	})
}

func TestRunConfigError(t *testing.T) {
	stubSeams(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  ranking: [seniority]\n"), 0o600))

	opened := false
	openServices = func(context.Context, *config.Config, *metrics.Metrics, *logging.Logger) (*pkgmongo.InstrumentedClient, *bootstrap.Services, error) {
		opened = true
		return nil, nil, errors.New("unreachable")
	}

	err := run(context.Background(), path, make(chan os.Signal, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.ranking")
	assert.False(t, opened)
}

func TestRunServicesError(t *testing.T) {
	stubSeams(t)
	initTracing = func(context.Context, *tracing.Config) (*tracing.TracerProvider, error) {
		return nil, errors.New("collector down")
	}
	mongoDown := errors.New("mongo down")
	var gotCfg *config.Config
	openServices = func(_ context.Context, cfg *config.Config, _ *metrics.Metrics, _ *logging.Logger) (*pkgmongo.InstrumentedClient, *bootstrap.Services, error) {
		gotCfg = cfg
		return nil, nil, mongoDown
	}

	err := run(context.Background(), "", make(chan os.Signal, 1))

	assert.ErrorIs(t, err, mongoDown)
	require.NotNil(t, gotCfg)
	assert.Equal(t, serviceName, gotCfg.ServiceName)
}
