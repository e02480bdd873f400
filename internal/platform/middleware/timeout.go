package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RequestTimeout bounds each request with a context deadline. When the
// deadline passes before the handler has written a response, the client
// gets a 504 and the handler's context is cancelled so in-flight queries
// abort. Anything the handler writes after that is discarded, and the
// middleware returns only once the handler has, so the echo.Context is
// never shared with a goroutine that outlives the request.
// A non-positive timeout disables the middleware.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			res := c.Response()
			orig := res.Writer
			tw := &timeoutWriter{w: orig, h: orig.Header().Clone()}
			res.Writer = tw
			defer func() { res.Writer = orig }()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						zerolog.Ctx(ctx).Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("panic recovered")
						done <- fmt.Errorf("handler panic: %v", r)
					}
				}()
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
			}

			if !tw.claim() {
				// The handler already started its response; let it finish.
				return <-done
			}
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				<-done
				return ctx.Err()
			}
			writeTimeout(orig)
			<-done
			res.Status = http.StatusGatewayTimeout
			res.Committed = true
			return nil
		}
	}
}

func writeTimeout(w http.ResponseWriter) {
	w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSONCharsetUTF8)
	w.WriteHeader(http.StatusGatewayTimeout)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": "request exceeded the allowed processing time",
	})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// timeoutWriter keeps the handler's header map apart from the real one and
// drops every write once the response has been claimed for the 504.
type timeoutWriter struct {
	mu          sync.Mutex
	w           http.ResponseWriter
	h           http.Header
	wroteHeader bool
	expired     bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.h }

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) writeHeaderLocked(code int) {
	if tw.expired || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	dst := tw.w.Header()
	for k, v := range tw.h {
		dst[k] = v
	}
	tw.w.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.expired {
		return 0, http.ErrHandlerTimeout
	}
	tw.writeHeaderLocked(http.StatusOK)
	return tw.w.Write(b)
}

func (tw *timeoutWriter) Flush() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if f, ok := tw.w.(http.Flusher); ok && !tw.expired {
		f.Flush()
	}
}

// claim takes the response away from the handler unless it has already
// written a header.
func (tw *timeoutWriter) claim() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.wroteHeader {
		return false
	}
	tw.expired = true
	return true
}
