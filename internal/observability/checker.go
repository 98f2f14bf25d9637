package observability

import "context"

// Checker reports the health of one dependency for the readiness probe.
// Implementations must be safe for concurrent use and respect ctx.
type Checker interface {
	// Name identifies the dependency, e.g. "postgres" or "redis".
	Name() string
	// Check returns nil when the dependency is usable.
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) error
}

func (c CheckerFunc) Name() string { return c.ComponentName }

func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
