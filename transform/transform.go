// Package transform models the optional per-event user script as a
// Transformer interface, so the core indexer never depends on a
// particular scripting runtime.
package transform

// Context is the mutable state threaded through a Transformer: the
// document under transformation plus the control directives a script
// may set.
type Context struct {
	Document  map[string]interface{}
	Operation string
	ID        string

	Ignore  bool
	Deleted bool

	Index   string
	Type    string
	Parent  string
	Routing string
}

// Transformer applies a user-configured transformation to ctx and
// returns the (possibly modified) result. A failure during evaluation
// is logged by the caller and the original ctx is kept unchanged.
type Transformer interface {
	Apply(ctx *Context) (*Context, error)
}

// Noop is used when no script is configured.
type Noop struct{}

func (Noop) Apply(ctx *Context) (*Context, error) { return ctx, nil }
