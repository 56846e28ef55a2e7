package filewatch

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Modified is the cause of a context cancelled by UntilModifyContext.
type Modified struct {
	// Name is the path of the modified file.
	Name string
	Op   fsnotify.Op
}

func (m *Modified) Error() string {
	return fmt.Sprintf("%s is updated (%s)", m.Name, m.Op.String())
}

// UntilModifyContext returns a context that is canceled
// when one of target files is modified (= written, created, removed, renamed or chmod-ed).
//
// The cause of the cancellation is a *Modified.
// Empty paths are ignored, and each path is watched once.
//
// When it fails to start watching, the context and the cancel function are nil.
func UntilModifyContext(ctx context.Context, targetFilePath ...string) (context.Context, func(), error) {
	cctx, cancel := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cancel(err)
		return nil, nil, err
	}

	seen := map[string]struct{}{}
	for _, f := range targetFilePath {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		if err := w.Add(f); err != nil {
			w.Close()
			cancel(err)
			return nil, nil, err
		}
	}

	go func() {
		defer w.Close()

		for {
			select {
			case <-cctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				cancel(&Modified{Name: event.Name, Op: event.Op})
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}
