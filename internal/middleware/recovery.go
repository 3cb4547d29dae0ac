// File: internal/middleware/recovery.go
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"recycloai/internal/response"
	"recycloai/internal/services"
)

// Recovery turns a panic in a handler into a 500 envelope and logs the stack
func Recovery(builder *response.Builder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := wrapWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				GetRequestLogger(r.Context()).Error("Panic recovered",
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)

				if sw.wroteHeader {
					return
				}
				builder.WriteError(sw, r, services.NewInternalError("internal server error", fmt.Errorf("panic: %v", rec)))
			}()
			next.ServeHTTP(sw, r)
		})
	}
}
