// Package logs composes *log.Logger for components.
package logs

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/AlexandreManai/ML-pipeline/pkg/loop"
)

type LoggerOptions func(*log.Logger) *log.Logger

// ByLogger applies options to l in order.
func ByLogger(l *log.Logger, opt ...LoggerOptions) *log.Logger {
	for _, o := range opt {
		l = o(l)
	}
	return l
}

// Copied makes a new logger with the same writer, prefix and flags.
//
// Put it first to leave the base logger untouched.
func Copied() LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		return log.New(l.Writer(), l.Prefix(), l.Flags())
	}
}

func WithPrefix(pre string) LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		l.SetPrefix(pre)
		return l
	}
}

func WithTimestamp() LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		l.SetFlags(l.Flags() | log.Ldate | log.Ltime | log.Lmicroseconds)
		return l
	}
}

// Child is a copy of l with prefix.
func Child(l *log.Logger, prefix string) *log.Logger {
	if l == nil {
		return Discard()
	}
	return ByLogger(l, Copied(), WithPrefix(prefix))
}

// Discard is a logger writing nothing.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// Monitor wraps task to log the start and end of each iteration.
func Monitor[T any](logger *log.Logger, task loop.Task[T]) loop.Task[T] {
	var counter uint64
	return func(ctx context.Context, t T) (ret T, next loop.Next) {
		counter += 1
		timestamp := time.Now()

		logger.Printf("task start: #0x%X", counter)

		defer func() {
			logger.Printf(
				"task end: #0x%X (takes %s): %s\n with value = %+v",
				counter, time.Since(timestamp), next, ret,
			)
		}()

		ret, next = task(ctx, t)
		return
	}
}
