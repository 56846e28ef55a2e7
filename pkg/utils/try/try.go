package try

// Fataler is something having `Fatal`, like *testing.T or *log.Logger.
type Fataler interface {
	Fatal(...any)
}

// Either wraps a (T, error) pair.
//
// It is "ok" when error is nil, and "no good" otherwise.
type Either[T any] interface {
	// Get returns (value, nil) if ok, or (zero-value, error).
	Get() (T, error)

	// OrFatal returns the value if ok. Otherwise, it calls ftl.Fatal(err).
	//
	// If ftl has "Helper()" method (like *testing.T), that is called before `Fatal`.
	OrFatal(ftl Fataler) T

	// OrDefault returns the value if ok, or d.
	OrDefault(d T) T
}

// To wraps a result of a function call.
//
//	conf := try.To(orchestrator.LoadOrchestratorConfig(path)).OrFatal(logger)
func To[T any](v T, err error) Either[T] {
	if err == nil {
		return ok[T]{v}
	}
	return ng[T]{err}
}

// Map converts the value if ok.
func Map[T any, R any](e Either[T], mapper func(T) R) Either[R] {
	v, err := e.Get()
	if err != nil {
		return ng[R]{err}
	}
	return ok[R]{mapper(v)}
}

type ok[T any] struct {
	value T
}

func (o ok[T]) Get() (T, error) { return o.value, nil }
func (o ok[T]) OrDefault(T) T { return o.value }
func (o ok[T]) OrFatal(Fataler) T { return o.value }

type ng[T any] struct {
	err error
}

func (n ng[T]) Get() (T, error) { return *new(T), n.err }
func (n ng[T]) OrDefault(d T) T { return d }
func (n ng[T]) OrFatal(ftl Fataler) T {
	if hlp, ok := ftl.(interface{ Helper() }); ok {
		hlp.Helper()
	}
	ftl.Fatal(n.err)
	return *new(T)
}
