package middleware

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
)

// heldWriter passes successful and redirect responses through and holds back
// any 4xx/5xx response so the session gate can replace it.
type heldWriter struct {
	gin.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *heldWriter) held() bool { return w.status != 0 }

func (w *heldWriter) WriteHeader(code int) {
	if w.ResponseWriter.Written() {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	if w.held() && w.body.Len() > 0 {
		return
	}
	if code >= http.StatusBadRequest {
		w.status = code
		return
	}
	w.status = 0
	w.ResponseWriter.WriteHeader(code)
}

func (w *heldWriter) WriteHeaderNow() {
	if w.held() {
		return
	}
	w.ResponseWriter.WriteHeaderNow()
}

func (w *heldWriter) Write(b []byte) (int, error) {
	if w.held() {
		return w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *heldWriter) WriteString(s string) (int, error) {
	if w.held() {
		return w.body.WriteString(s)
	}
	return w.ResponseWriter.WriteString(s)
}

func (w *heldWriter) Flush() {
	if w.held() {
		return
	}
	w.ResponseWriter.Flush()
}

func (w *heldWriter) Status() int {
	if w.held() {
		return w.status
	}
	return w.ResponseWriter.Status()
}

func (w *heldWriter) Written() bool {
	return w.held() || w.ResponseWriter.Written()
}

func (w *heldWriter) Size() int {
	if w.held() {
		return w.body.Len()
	}
	return w.ResponseWriter.Size()
}

// release writes the held response unchanged.
func (w *heldWriter) release() {
	w.ResponseWriter.WriteHeader(w.status)
	_, _ = w.ResponseWriter.Write(w.body.Bytes())
}
