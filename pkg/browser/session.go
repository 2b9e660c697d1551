package browser

import "context"

// Runtime manages browser sessions.
type Runtime interface {
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
	Close() error
}

// Session is the port implemented by browser runtime adapters.
type Session interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	PageInfo(ctx context.Context) (PageInfo, error)
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Act(ctx context.Context, action Action) (string, error)
	Close() error
}
