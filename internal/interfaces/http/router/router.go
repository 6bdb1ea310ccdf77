// Package router assembles the HTTP API from route groups.
package router

import (
	"net/http"
	"path"

	"github.com/erp/pricesync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BasePath is the prefix of a versioned API
func BasePath(version string) string {
	if version == "" {
		version = "v1"
	}
	return "/api/" + version
}

// MountAPI mounts groups under BasePath(version) and logs each route at
// debug level.
func MountAPI(engine *gin.Engine, version string, logger *zap.Logger, groups ...*Group) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := BasePath(version)
	api := engine.Group(base)
	for _, g := range groups {
		g.mount(api)
		for _, r := range g.Routes(base) {
			logger.Debug("route mounted", zap.String("group", g.Name), zap.String("route", r))
		}
	}
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// Group is a set of routes under one prefix that share middleware.
// Nested groups inherit the middleware of their parents.
type Group struct {
	Name   string
	Prefix string

	use    []gin.HandlerFunc
	routes []route
	nested []*Group
}

func NewGroup(name, prefix string, use ...gin.HandlerFunc) *Group {
	return &Group{Name: name, Prefix: prefix, use: use}
}

func (g *Group) Use(mw ...gin.HandlerFunc) *Group {
	g.use = append(g.use, mw...)
	return g
}

// LimitBody caps request bodies below the engine-wide limit. Zero or
// negative leaves the engine limit in place.
func (g *Group) LimitBody(maxBytes int64) *Group {
	if maxBytes <= 0 {
		return g
	}
	return g.Use(middleware.BodyLimit(maxBytes))
}

func (g *Group) Handle(method, relativePath string, handlers ...gin.HandlerFunc) *Group {
	g.routes = append(g.routes, route{method: method, path: relativePath, handlers: handlers})
	return g
}

func (g *Group) GET(p string, h ...gin.HandlerFunc) *Group    { return g.Handle(http.MethodGet, p, h...) }
func (g *Group) POST(p string, h ...gin.HandlerFunc) *Group   { return g.Handle(http.MethodPost, p, h...) }
func (g *Group) PUT(p string, h ...gin.HandlerFunc) *Group    { return g.Handle(http.MethodPut, p, h...) }
func (g *Group) DELETE(p string, h ...gin.HandlerFunc) *Group { return g.Handle(http.MethodDelete, p, h...) }

// Nest adds a child group mounted below g
func (g *Group) Nest(name, prefix string) *Group {
	child := NewGroup(name, prefix)
	g.nested = append(g.nested, child)
	return child
}

func (g *Group) mount(parent *gin.RouterGroup) {
	rg := parent.Group(g.Prefix, g.use...)
	for _, r := range g.routes {
		rg.Handle(r.method, r.path, r.handlers...)
	}
	for _, child := range g.nested {
		child.mount(rg)
	}
}

// Routes lists "METHOD /full/path" for g and its nested groups
func (g *Group) Routes(base string) []string {
	prefix := path.Join(base, g.Prefix)
	out := make([]string, 0, len(g.routes))
	for _, r := range g.routes {
		out = append(out, r.method+" "+path.Join(prefix, r.path))
	}
	for _, child := range g.nested {
		out = append(out, child.Routes(prefix)...)
	}
	return out
}
