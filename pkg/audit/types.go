package audit

import "context"

// Entry records a single action for the audit trail.
type Entry struct {
	EntryID    string `json:"entry_id"`
	Timestamp  int64  `json:"timestamp"`
	Action     string `json:"action"`
	Transport  string `json:"transport"` // "http" or "mcp"
	UserID     string `json:"user_id"`
	RequestID  string `json:"request_id"`
	Parameters string `json:"parameters"`
	Result     string `json:"result"`
	Error      string `json:"error_message"`
	DurationMs int64  `json:"duration_ms"`
	Status     string `json:"status"` // "success" or "error"
}

// Logger writes audit entries to storage.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	LogAsync(entry *Entry)
	Close() error
}

type ctxKey int

const (
	userIDKey ctxKey = iota
	requestIDKey
	transportKey
)

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

func stringFrom(ctx context.Context, k ctxKey) string {
	s, _ := ctx.Value(k).(string)
	return s
}

func UserID(ctx context.Context) string    { return stringFrom(ctx, userIDKey) }
func RequestID(ctx context.Context) string { return stringFrom(ctx, requestIDKey) }
func Transport(ctx context.Context) string { return stringFrom(ctx, transportKey) }
