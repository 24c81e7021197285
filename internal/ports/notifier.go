package ports

import "context"

// Notifier defines the interface for pushing trade lifecycle messages to an
// external channel (e.g. Telegram). Implementations must honour the context
// deadline and return an error rather than retry indefinitely.
type Notifier interface {
	// Notify sends a plain-text message.
	Notify(ctx context.Context, msg string) error
}
