package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-platform/production-engine/pkg/errors"
	"github.com/atelier-platform/production-engine/pkg/logging"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	Setup(router, DefaultConfig("test", slog.New(slog.NewTextHandler(io.Discard, nil))))
	return router
}

func TestRequestContextPropagatesIDs(t *testing.T) {
	router := newTestRouter()
	var seenActor string
	router.GET("/ping", func(c *gin.Context) {
		seenActor = logging.ActorFromContext(c.Request.Context())
		c.String(http.StatusOK, GetCorrelationID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	req.Header.Set(HeaderActor, "ana")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-1", w.Body.String(), "correlation id defaults to the request id")
	assert.Equal(t, "ana", seenActor)
}

func TestErrorHandlerRendersAppError(t *testing.T) {
	router := newTestRouter()
	router.GET("/fail", func(c *gin.Context) {
		_ = c.Error(errors.ErrInvalidTransition("stage is not started"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), errors.CodeInvalidTransition)
}

func TestContentTypeRejectsNonJSON(t *testing.T) {
	router := newTestRouter()
	router.POST("/orders", func(c *gin.Context) { c.Status(http.StatusCreated) })

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestCustomValidators(t *testing.T) {
	type payload struct {
		Stage    string `json:"stageId" validate:"stage_id"`
		Priority string `json:"priority" validate:"priority"`
		Currency string `json:"currency" validate:"currency"`
		Reason   string `json:"reason" validate:"reason"`
	}

	tests := []struct {
		name    string
		in      payload
		invalid []string
	}{
		{"all valid", payload{"cutting", "urgent", "EUR", "fabric defect"}, nil},
		{"bad stage", payload{"Cutting!", "normal", "EUR", "fabric defect"}, []string{"stageId"}},
		{"bad priority and reason", payload{"sewing", "asap", "EUR", "  "}, []string{"priority", "reason"}},
		{"bad currency", payload{"sewing", "low", "eur", "ok reason"}, []string{"currency"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := ValidateStruct(tt.in)
			if tt.invalid == nil {
				assert.Nil(t, appErr)
				return
			}
			require.NotNil(t, appErr)
			for _, field := range tt.invalid {
				assert.Contains(t, appErr.Details, field)
			}
		})
	}
}

func TestHealthAndReadiness(t *testing.T) {
	router := newTestRouter()
	router.GET("/health", HealthCheck("test"))
	router.GET("/ready", ReadinessCheck("test", func() error { return io.ErrUnexpectedEOF }))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
