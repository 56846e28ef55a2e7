package recurring

import (
	"fmt"
	"strings"
	"time"

	"github.com/AlexandreManai/ML-pipeline/pkg/loop"
)

// ParsePolicy parses "forever[:INTERVAL]" or "once".
func ParsePolicy(s string) (Policy, error) {
	typ, param, ok := strings.Cut(s, ":")
	switch typ {
	case "forever":
		if !ok || param == "" {
			return Forever(0), nil
		}
		period, err := time.ParseDuration(param)
		if err != nil {
			return nil, fmt.Errorf(`failed to parse: %s as "forever:INTERVAL": %w`, s, err)
		}
		if period < 0 {
			return nil, fmt.Errorf("interval should not be negative: %s", s)
		}
		return Forever(period), nil
	case "once":
		if ok {
			return nil, fmt.Errorf("once policy does not take parameters: %s", s)
		}
		return Once(), nil
	}
	return nil, fmt.Errorf("unknown policy name: %s (should be one of -- forever|once)", typ)
}

// Policy decides what the loop does after a task.
type Policy interface {
	Next(err error) loop.Next
	String() string
}

// Forever restarts the task after interval, regardless of errors.
func Forever(interval time.Duration) Policy {
	return forever(interval)
}

type forever time.Duration

func (f forever) String() string {
	return fmt.Sprintf("forever:%s", time.Duration(f))
}

func (f forever) Next(error) loop.Next {
	return loop.Continue(time.Duration(f))
}

// Once runs the task just one time, and breaks with its error.
func Once() Policy {
	return once{}
}

type once struct{}

func (once) String() string {
	return "once"
}

func (once) Next(err error) loop.Next {
	return loop.Break(err)
}

// UntilError adds a clause: in case of error, Break with that error.
func UntilError(p Policy) Policy {
	return until{base: p, name: "until error", stop: func(error) bool { return true }}
}

// UntilFatal adds a clause: in case of error which isFatal, Break with that error.
//
// Other errors are handed to p.
func UntilFatal(p Policy, isFatal func(error) bool) Policy {
	return until{base: p, name: "until fatal error", stop: isFatal}
}

type until struct {
	base Policy
	name string
	stop func(error) bool
}

func (u until) String() string {
	return fmt.Sprintf("%s (%s)", u.base, u.name)
}

func (u until) Next(err error) loop.Next {
	if err != nil && u.stop(err) {
		return loop.Break(err)
	}
	return u.base.Next(err)
}
