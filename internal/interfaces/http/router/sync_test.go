package router

import (
	"net/http"
	"testing"

	"github.com/erp/pricesync/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func routeSet(engine *gin.Engine) map[string]bool {
	set := map[string]bool{}
	for _, ri := range engine.Routes() {
		set[ri.Method+" "+ri.Path] = true
	}
	return set
}

func TestSyncRoutes(t *testing.T) {
	engine := gin.New()
	limited := 0
	limit := func(c *gin.Context) {
		limited++
		c.AbortWithStatus(http.StatusTooManyRequests)
	}

	MountAPI(engine, "v1", zap.NewNop(),
		SyncRoutes(SyncHandlers{
			Jobs:      handler.NewSyncJobHandler(nil),
			Conflicts: handler.NewConflictHandler(nil),
			Rules:     handler.NewRuleHandler(nil),
			Settings:  handler.NewSettingsHandler(nil, nil),
		}, limit),
		WebhookRoutes(handler.NewWebhookHandler(nil, "", zap.NewNop()), limit, 0),
	)

	routes := routeSet(engine)
	for _, want := range []string{
		"POST /api/v1/sync/jobs",
		"GET /api/v1/sync/jobs",
		"GET /api/v1/sync/jobs/:id",
		"GET /api/v1/sync/conflicts",
		"POST /api/v1/sync/conflicts/detect",
		"GET /api/v1/sync/conflicts/:id",
		"POST /api/v1/sync/conflicts/:id/resolve",
		"POST /api/v1/sync/conflicts/:id/ignore",
		"POST /api/v1/sync/rules",
		"GET /api/v1/sync/rules",
		"GET /api/v1/sync/rules/:id",
		"DELETE /api/v1/sync/rules/:id",
		"GET /api/v1/sync/price-history",
		"GET /api/v1/sync/settings",
		"PUT /api/v1/sync/settings",
		"POST /api/v1/erp/webhooks/prices",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}

	// The limiter runs before the handlers, which would panic on nil services.
	assert.Equal(t, http.StatusTooManyRequests, serve(engine, http.MethodPost, "/api/v1/sync/jobs").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(engine, http.MethodPost, "/api/v1/erp/webhooks/prices").Code)
	assert.Equal(t, 2, limited)
}

func TestSystemRoutesAndProbes(t *testing.T) {
	engine := gin.New()
	sys := handler.NewSystemHandler("test", nil)

	Probes(engine, sys)
	MountAPI(engine, "v1", nil, SystemRoutes(sys))

	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/ready").Code)
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/api/v1/system/info").Code)
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/api/v1/system/health").Code)
}
