package mallard

import "github.com/rs/zerolog"

// Option configures a Context.
type Option func(*Context)

// WithLogger routes the context's structured logging to the given logger.
// The default logger discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Context) {
		c.log = log
	}
}

// WithTypeRegistry replaces the default value converters.
func WithTypeRegistry(r *TypeRegistry) Option {
	return func(c *Context) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithStackCheck enables verification that every bridge operation leaves
// the engine value stack exactly as deep as it found it. A violation is a
// bridge bug and is reported by panic.
func WithStackCheck() Option {
	return func(c *Context) {
		c.stackCheck = true
	}
}
