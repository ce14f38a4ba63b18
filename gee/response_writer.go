package gee

import "net/http"

// ResponseWriter 记下状态码和字节数，访问日志和指标在 handler 之后读取。
type ResponseWriter struct {
	http.ResponseWriter
	status  int
	size    int
	written bool
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader 只生效一次，之后的调用被忽略。
func (w *ResponseWriter) WriteHeader(code int) {
	if w.written {
		return
	}
	w.status = code
	w.written = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *ResponseWriter) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *ResponseWriter) SetHeader(key, value string) { w.Header().Set(key, value) }

func (w *ResponseWriter) Status() int   { return w.status }
func (w *ResponseWriter) Size() int     { return w.size }
func (w *ResponseWriter) Written() bool { return w.written }

// Unwrap 让 http.ResponseController 拿到底层 writer（Flush、SetWriteDeadline）。
func (w *ResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
