package gee

import (
	"log/slog"
	"net/http"
	"strings"
)

type Engine struct {
	*RouterGroup
	router   *router
	groups   []*RouterGroup
	noRoute  []HandlerFunc
	noMethod []HandlerFunc
}

// RouterGroup 共享前缀和中间件；中间件对前缀下所有路径生效，包括 404/405。
type RouterGroup struct {
	prefix      string
	middlewares []HandlerFunc
	engine      *Engine
}

func New() *Engine {
	e := &Engine{router: newRouter()}
	e.RouterGroup = &RouterGroup{engine: e}
	e.groups = []*RouterGroup{e.RouterGroup}
	e.noRoute = []HandlerFunc{func(ctx *Context) {
		ctx.String(http.StatusNotFound, "404 NOT FOUND %s", ctx.Path)
	}}
	e.noMethod = []HandlerFunc{func(ctx *Context) {
		ctx.String(http.StatusMethodNotAllowed, "405 Method Not Allowed %s", ctx.Path)
	}}
	return e
}

func (e *Engine) NoRoute(handlers ...HandlerFunc)  { e.noRoute = handlers }
func (e *Engine) NoMethod(handlers ...HandlerFunc) { e.noMethod = handlers }

func (group *RouterGroup) Group(prefix string) *RouterGroup {
	g := &RouterGroup{prefix: group.prefix + prefix, engine: group.engine}
	group.engine.groups = append(group.engine.groups, g)
	return g
}

func (group *RouterGroup) Use(middlewares ...HandlerFunc) {
	group.middlewares = append(group.middlewares, middlewares...)
}

func (group *RouterGroup) Handle(method, pattern string, handlers ...HandlerFunc) {
	full := group.prefix + pattern
	slog.Debug("route registered", "method", method, "pattern", full)
	group.engine.router.addRoute(method, full, handlers...)
}

func (group *RouterGroup) GET(pattern string, handlers ...HandlerFunc) {
	group.Handle(http.MethodGet, pattern, handlers...)
}

func (group *RouterGroup) POST(pattern string, handlers ...HandlerFunc) {
	group.Handle(http.MethodPost, pattern, handlers...)
}

// underPrefix 按路径段比较：/api/v1/links 不覆盖 /api/v1/linksfoo。
func underPrefix(path, prefix string) bool {
	if prefix == "" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix) && (strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/')
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx := newContext(w, req)
	for _, g := range e.groups {
		if underPrefix(req.URL.Path, g.prefix) {
			ctx.handlers = append(ctx.handlers, g.middlewares...)
		}
	}
	e.router.handle(ctx, e)
}
