package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/perchsocial/perch/pkg/observability"
)

// SafeGo executes a function in a goroutine with context cancellation
// support, panic recovery, timeout enforcement, and error logging.
//
// Use this instead of bare `go func()` to prevent goroutine leaks and
// crashes. Failures are logged, never returned; callers that need the
// result should not be using SafeGo.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}
