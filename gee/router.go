package gee

import (
	"net/http"
	"sort"
	"strings"
)

type HandlerFunc func(*Context)

// router 每个 method 一棵树；handlers 的 key 是 "GET /p/:lang"。
type router struct {
	trees    map[string]*node
	handlers map[string][]HandlerFunc
}

func newRouter() *router {
	return &router{
		trees:    make(map[string]*node),
		handlers: make(map[string][]HandlerFunc),
	}
}

// splitPath 去掉空段；*catchAll 之后的段全部忽略。
func splitPath(path string) []string {
	parts := make([]string, 0, 4)
	for _, item := range strings.Split(path, "/") {
		if item == "" {
			continue
		}
		parts = append(parts, item)
		if item[0] == '*' {
			break
		}
	}
	return parts
}

func (r *router) addRoute(method, pattern string, handlers ...HandlerFunc) {
	if len(handlers) == 0 {
		panic("gee: route " + method + " " + pattern + " has no handler")
	}
	root, ok := r.trees[method]
	if !ok {
		root = &node{}
		r.trees[method] = root
	}
	root.insert(pattern, splitPath(pattern))
	r.handlers[method+" "+pattern] = append([]HandlerFunc(nil), handlers...)
}

// lookup 找不到 HEAD 路由时退回到 GET：检查短链可用性的客户端经常只发 HEAD。
func (r *router) lookup(method, path string) (string, map[string]string, bool) {
	pattern, params, ok := r.match(method, path)
	if !ok && method == http.MethodHead {
		pattern, params, ok = r.match(http.MethodGet, path)
		method = http.MethodGet
	}
	if !ok {
		return "", nil, false
	}
	return method + " " + pattern, params, true
}

func (r *router) match(method, path string) (string, map[string]string, bool) {
	root, ok := r.trees[method]
	if !ok {
		return "", nil, false
	}
	params := make(map[string]string)
	n := root.search(splitPath(path), params)
	if n == nil {
		return "", nil, false
	}
	return n.pattern, params, true
}

func (r *router) handle(c *Context, e *Engine) {
	key, params, ok := r.lookup(c.Method, c.Path)
	if ok {
		c.Params = params
		c.RoutePattern = key[strings.IndexByte(key, ' ')+1:]
		c.handlers = append(c.handlers, r.handlers[key]...)
	} else if allow := r.allowedMethods(c.Path); len(allow) > 0 {
		c.SetHeader("Allow", strings.Join(allow, ", "))
		c.handlers = append(c.handlers, e.noMethod...)
	} else {
		c.handlers = append(c.handlers, e.noRoute...)
	}
	c.Next()
}

func (r *router) allowedMethods(path string) []string {
	var allow []string
	for method := range r.trees {
		if _, _, ok := r.match(method, path); ok {
			allow = append(allow, method)
			if method == http.MethodGet {
				if _, has := r.trees[http.MethodHead]; !has {
					allow = append(allow, http.MethodHead)
				}
			}
		}
	}
	sort.Strings(allow)
	return allow
}
