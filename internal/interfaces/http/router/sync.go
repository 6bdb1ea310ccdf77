package router

import (
	"github.com/erp/pricesync/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
)

// SyncHandlers bundles the handlers served under /sync
type SyncHandlers struct {
	Jobs      *handler.SyncJobHandler
	Conflicts *handler.ConflictHandler
	Rules     *handler.RuleHandler
	Settings  *handler.SettingsHandler
}

// SyncRoutes builds the /sync group. triggerLimit guards job creation and
// may be nil.
func SyncRoutes(h SyncHandlers, triggerLimit gin.HandlerFunc) *Group {
	g := NewGroup("sync", "/sync")

	trigger := []gin.HandlerFunc{h.Jobs.Trigger}
	if triggerLimit != nil {
		trigger = append([]gin.HandlerFunc{triggerLimit}, trigger...)
	}
	g.POST("/jobs", trigger...)
	g.GET("/jobs", h.Jobs.List)
	g.GET("/jobs/:id", h.Jobs.Get)

	g.GET("/conflicts", h.Conflicts.List)
	g.POST("/conflicts/detect", h.Conflicts.Detect)
	g.GET("/conflicts/:id", h.Conflicts.Get)
	g.POST("/conflicts/:id/resolve", h.Conflicts.Resolve)
	g.POST("/conflicts/:id/ignore", h.Conflicts.Ignore)

	g.POST("/rules", h.Rules.Upsert)
	g.GET("/rules", h.Rules.List)
	g.GET("/rules/:id", h.Rules.Get)
	g.DELETE("/rules/:id", h.Rules.Deactivate)

	g.GET("/price-history", h.Settings.ListPriceHistory)
	g.GET("/settings", h.Settings.GetSettings)
	g.PUT("/settings", h.Settings.UpdateSettings)
	return g
}

// WebhookRoutes builds the /erp/webhooks group. It must be mounted where
// the JWT middleware skips it. maxBody > 0 tightens the body limit.
func WebhookRoutes(h *handler.WebhookHandler, limit gin.HandlerFunc, maxBody int64) *Group {
	g := NewGroup("erp-webhooks", "/erp/webhooks").LimitBody(maxBody)
	if limit != nil {
		g.Use(limit)
	}
	g.POST("/prices", h.PriceChanged)
	return g
}

// SystemRoutes builds the /system group
func SystemRoutes(h *handler.SystemHandler) *Group {
	g := NewGroup("system", "/system")
	g.GET("/info", h.GetSystemInfo)
	g.GET("/health", h.Health)
	return g
}

// Probes registers the unversioned liveness and readiness endpoints
func Probes(engine *gin.Engine, h *handler.SystemHandler) {
	engine.GET("/health", h.Health)
	engine.GET("/ready", h.Ready)
}
