package gee

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
)

// abortIndex 足够大即可；不能取 MaxInt，嵌套的 Next 还会在它上面自增。
const abortIndex = math.MaxInt32

type Context struct {
	Writer *ResponseWriter
	Req    *http.Request

	Path         string
	Method       string
	Params       map[string]string
	RoutePattern string // 命中的路由模板，指标和 span 名用它，避免高基数

	handlers []HandlerFunc
	index    int
}

func newContext(w http.ResponseWriter, req *http.Request) *Context {
	return &Context{
		Writer: NewResponseWriter(w),
		Req:    req,
		Path:   req.URL.Path,
		Method: req.Method,
		index:  -1,
	}
}

// Next 执行后续 handler；中间件在 Next 前后各做一半工作。
func (c *Context) Next() {
	for c.index++; c.index < len(c.handlers) && !c.IsAborted(); c.index++ {
		c.handlers[c.index](c)
	}
}

func (c *Context) Abort()          { c.index = abortIndex }
func (c *Context) IsAborted() bool { return c.index >= abortIndex }

func (c *Context) Param(key string) string { return c.Params[key] }

// Query 返回查询参数的第一个值，不存在时为空串。
func (c *Context) Query(key string) string {
	return c.Req.URL.Query().Get(key)
}

func (c *Context) Status(code int) { c.Writer.WriteHeader(code) }

func (c *Context) SetHeader(key, value string) { c.Writer.SetHeader(key, value) }

// String 写纯文本响应。
func (c *Context) String(code int, format string, values ...any) {
	c.SetHeader("Content-Type", "text/plain; charset=utf-8")
	c.Status(code)
	fmt.Fprintf(c.Writer, format, values...)
}

func (c *Context) JSON(code int, obj any) {
	body, err := json.Marshal(obj)
	if err != nil {
		code = http.StatusInternalServerError
		body = []byte(`{"code":500,"message":"Internal Server Error"}`)
	}
	c.SetHeader("Content-Type", "application/json")
	c.Status(code)
	c.Writer.Write(append(body, '\n'))
}

// Redirect 写 Location 并返回 3xx，响应体为空。
func (c *Context) Redirect(code int, location string) {
	if code < http.StatusMultipleChoices || code > http.StatusPermanentRedirect {
		panic(fmt.Sprintf("gee: cannot redirect with status code %d", code))
	}
	c.SetHeader("Location", location)
	c.Status(code)
}

// Fail 纯文本错误并中止，重定向入口用它（浏览器直接看到）。
func (c *Context) Fail(code int, message string) {
	c.String(code, "%s", message)
	c.Abort()
}

// AbortWithError JSON 错误体并中止，/api 下的接口用它。响应已经写出时只中止。
func (c *Context) AbortWithError(code int, message string) {
	c.Abort()
	if c.Writer.Written() {
		return
	}
	c.JSON(code, NewErrorResponse(c, code, message))
}
