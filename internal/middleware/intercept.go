package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"

	"carlisting-api/internal/response"
)

// Intercept returns an Echo middleware that buffers every response and
// finalizes it once through stages (outermost first).
//
// Whatever path the handler uses to respond (c.JSON, c.String, c.Blob,
// c.NoContent) the body lands in a response.Writer. Errors returned by the
// handler are rendered by Echo's HTTPErrorHandler into the same buffer, so
// error responses pass through the stages as well. A panic is recovered
// here: anything the handler already wrote is discarded and a 500 is
// rendered and finalized in its place.
func Intercept(stages ...response.Stage) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := c.Response()
			orig := res.Writer

			rw := response.NewWriter(orig, c.Request(), time.Now(), stages...)
			res.Writer = rw
			defer func() { res.Writer = orig }()

			if err := serveRecovered(next, c); err != nil {
				var pe *panicError
				if errors.As(err, &pe) {
					c.Logger().Errorf("[PANIC RECOVER] %v %s", pe.value, pe.stack)
					rw.Reset()
					res.Header().Del(echo.HeaderContentType)
					res.Committed = false
					res.Status = 0
					res.Size = 0
				}
				c.Error(err)
			}

			return rw.Commit()
		}
	}
}

// panicError carries a recovered panic value as a handler error.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func (e *panicError) Unwrap() error {
	err, _ := e.value.(error)
	return err
}

// serveRecovered runs next and converts a panic into *panicError.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func serveRecovered(next echo.HandlerFunc, c echo.Context) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if r == http.ErrAbortHandler {
			panic(r)
		}
		err = &panicError{value: r, stack: debug.Stack()}
	}()
	return next(c)
}
