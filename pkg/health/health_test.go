package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/resilience"
)

type fakePinger struct {
	err   error
	stats sql.DBStats
}

func (p *fakePinger) Health(ctx context.Context) error { return p.err }
func (p *fakePinger) Stats() sql.DBStats               { return p.stats }

func tripBreaker(t *testing.T, registry *resilience.Registry, dependency string) {
	t.Helper()
	_, err := registry.Breaker(dependency).Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	})
	require.Error(t, err)
}

func newRegistry() *resilience.Registry {
	policy := resilience.DefaultPolicy()
	policy.FailureThreshold = 1
	policy.ResetTimeout = time.Hour
	return resilience.NewRegistry(policy)
}

func TestService_AllHealthy(t *testing.T) {
	registry := newRegistry()
	registry.Get("twitter-publish")

	s := NewService(nil, nil)
	s.RegisterChecker("cache", NewCacheChecker(&fakePinger{}, "cache"))
	s.RegisterChecker("database", NewDatabaseChecker(&fakePinger{stats: sql.DBStats{MaxOpenConnections: 10, OpenConnections: 2}}, "database"))
	s.RegisterChecker("breakers", NewBreakerChecker(registry, "breakers"))

	resp := s.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	require.Len(t, resp.Checks, 3)
	assert.Equal(t, "2", resp.Checks["database"].Metadata["open_connections"])
	assert.Equal(t, "1", resp.Checks["breakers"].Metadata["dependencies"])
}

func TestBreakerChecker_OpenCircuitDegrades(t *testing.T) {
	registry := newRegistry()
	registry.Get("content-generation")
	tripBreaker(t, registry, "linkedin-publish")

	check := NewBreakerChecker(registry, "breakers").Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "linkedin-publish")
	assert.Equal(t, "1", check.Metadata["open_circuits"])
}

func TestCacheAndDatabaseFailuresDegrade(t *testing.T) {
	down := &fakePinger{err: fmt.Errorf("connection refused")}

	cacheCheck := NewCacheChecker(down, "cache").Check(context.Background())
	assert.Equal(t, StatusDegraded, cacheCheck.Status)
	assert.Equal(t, "connection refused", cacheCheck.Error)

	dbCheck := NewDatabaseChecker(down, "database").Check(context.Background())
	assert.Equal(t, StatusDegraded, dbCheck.Status)

	busy := &fakePinger{stats: sql.DBStats{MaxOpenConnections: 10, OpenConnections: 9}}
	assert.Equal(t, StatusDegraded, NewDatabaseChecker(busy, "database").Check(context.Background()).Status)
}

func TestService_UnhealthyWins(t *testing.T) {
	s := NewService(nil, nil)
	s.RegisterChecker("cache", NewCacheChecker(&fakePinger{err: fmt.Errorf("down")}, "cache"))
	s.RegisterChecker("custom", NewCustomChecker("custom", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "", fmt.Errorf("broken")
	}))

	resp := s.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "broken", resp.Checks["custom"].Error)

	s.UnregisterChecker("custom")
	assert.Equal(t, StatusDegraded, s.CheckHealth(context.Background()).Status)
}

func TestService_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := newRegistry()
	s := NewService(nil, &Config{Metadata: map[string]string{"service": "gateway"}})
	s.RegisterChecker("breakers", NewBreakerChecker(registry, "breakers"))

	router := gin.New()
	router.GET("/health", s.Handler())
	router.GET("/live", s.LivenessHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)
	assert.Equal(t, "gateway", body.Metadata["service"])

	tripBreaker(t, registry, "threads-publish")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusPartialContent, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}
