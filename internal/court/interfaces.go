package court

import (
	"context"
	"time"
)

// Session is one browser tab. A Session must not be used from more than one
// goroutine at a time.
type Session interface {
	// Navigate loads url and waits until the document body is parsed.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// WaitText waits for selector to appear and returns its text content.
	WaitText(ctx context.Context, selector string, timeout time.Duration) (string, error)
	// Exists reports whether selector matches an element right now.
	Exists(ctx context.Context, selector string) (bool, error)
	// SetValue fills an input and fires its input event.
	SetValue(ctx context.Context, selector, value string) error
	// SelectOption picks an option of a select element by value or label.
	SelectOption(ctx context.Context, selector, value string) error
	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error
	// HTML returns the outer HTML of the first match, or "" when absent.
	HTML(ctx context.Context, selector string) (string, error)
	// Close releases the tab. It is safe to call more than once.
	Close() error
}

// Arena owns every session opened for one request.
type Arena interface {
	Open(ctx context.Context) (Session, error)
	// Close closes all sessions still open and releases the browser.
	Close() error
}

// Browser hands out per-request arenas.
type Browser interface {
	NewArena(ctx context.Context) (Arena, error)
}

// QueryLog is the append-only archive of query/response pairs.
type QueryLog interface {
	Append(ctx context.Context, record QueryRecord) error
	Recent(ctx context.Context, limit int) ([]QueryRecord, error)
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completed results to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for artifact naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces result IDs.
type IDGenerator interface {
	NewID() (string, error)
}
