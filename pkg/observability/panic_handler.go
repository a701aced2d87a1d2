package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with its stack. Call it
// deferred at the top of a long-lived goroutine:
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "source watcher")
//	    w.Run(ctx)
//	}()
//
// The panic is not re-raised.
func RecoverPanic(logger logrus.FieldLogger, context string) {
	if r := recover(); r != nil {
		logger.WithFields(logrus.Fields{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": context,
		}).Error("PANIC recovered")
	}
}

// MustRecover converts a recovered panic value into an error, nil when r is nil.
// The loader uses it to turn a crashing build into an Error status:
//
//	defer func() {
//	    if r := recover(); r != nil {
//	        err = observability.MustRecover(r)
//	    }
//	}()
func MustRecover(r interface{}) error {
	if r != nil {
		if err, ok := r.(error); ok {
			return fmt.Errorf("panic: %w", err)
		}
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
