package chat

import "github.com/tzconnect/beacon-core/internal/metrics"

// Option configures optional behavior on a Client at construction time.
type Option func(*client)

// WithMetrics attaches a metrics.Collectors bundle so the sync loop
// records failures, backoff delay and joined-room count against it
// instead of the no-op default.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *client) { c.metrics = m }
}
