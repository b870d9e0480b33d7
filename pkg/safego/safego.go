package safego

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Go launches a goroutine with panic recovery.
// If the goroutine panics, the panic value is logged and the goroutine exits
// cleanly instead of crashing the process.
//
// Usage:
//
//	safego.Go(logger, "accounts-watcher", func() {
//	    // work that might panic
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}

// Loop runs fn repeatedly with panic recovery until ctx is canceled. A panic
// is logged and the loop restarts after restartWait, so a long-lived worker
// (watcher, pinger) survives a bad iteration.
func Loop(ctx context.Context, logger *zap.Logger, name string, restartWait time.Duration, fn func(ctx context.Context)) {
	go func() {
		for {
			ran := make(chan struct{})
			func() {
				defer close(ran)
				defer func() {
					if r := recover(); r != nil {
						logger.Error("Goroutine panicked, restarting",
							zap.String("goroutine", name),
							zap.Any("panic", r),
							zap.Stack("stack"),
						)
					}
				}()
				fn(ctx)
			}()
			<-ran

			select {
			case <-ctx.Done():
				return
			case <-time.After(restartWait):
			}
		}
	}()
}
