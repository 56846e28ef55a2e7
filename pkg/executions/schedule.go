package executions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/logs"
	"github.com/AlexandreManai/ML-pipeline/pkg/loop"
	"github.com/AlexandreManai/ML-pipeline/pkg/loop/recurring"
	"github.com/AlexandreManai/ML-pipeline/pkg/runlock"
)

// Tally counts executions of a schedule.
type Tally struct {
	Executions int
	Promoted   int
	Failed     int

	// Skipped counts turns when another execution was in flight.
	Skipped int
}

func (t Tally) String() string {
	return fmt.Sprintf(
		"executions=%d promoted=%d failed=%d skipped=%d",
		t.Executions, t.Promoted, t.Failed, t.Skipped,
	)
}

// IsFatal reports whether err leaves the registry in a state which
// further executions should not build on.
func IsFatal(err error) bool {
	return errors.Is(err, domain.ErrRegistryOperationFailed) ||
		errors.Is(err, domain.ErrNoProductionVersion)
}

// Task runs one execution per turn.
//
// A turn is skipped without error when another execution is in flight.
func Task(m *Manager) recurring.Task[Tally] {
	return func(ctx context.Context, t Tally) (Tally, error) {
		rec, err := m.Run(ctx)
		if errors.Is(err, runlock.ErrLocked) {
			m.logger().Printf("skipped: %s", err)
			t.Skipped += 1
			return t, nil
		}
		t.Executions += 1
		if err != nil {
			t.Failed += 1
			return t, err
		}
		if rec.Result.Promotion != nil {
			t.Promoted += 1
		}
		return t, nil
	}
}

// Schedule runs executions on policy, until policy breaks, a fatal error occurs or ctx is done.
//
// A positive timeout limits each execution.
func Schedule(ctx context.Context, logger *log.Logger, m *Manager, policy recurring.Policy, timeout time.Duration) (Tally, error) {
	l := logs.ByLogger(logger, logs.Copied(), logs.WithPrefix("[schedule] "), logs.WithTimestamp())
	options := []loop.LoopOption{}
	if 0 < timeout {
		options = append(options, loop.WithTimeout(timeout))
	}
	return loop.Start(
		ctx, Tally{},
		logs.Monitor(l, Task(m).Applied(recurring.UntilFatal(policy, IsFatal))),
		options...,
	)
}
