package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"colegio.org/internal/ids"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry carries the optional attributes of an audit event.
type Entry struct {
	UserID   string
	IPHash   string
	Metadata map[string]any
}

// Record is a persisted audit event.
type Record struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId"`
	UserID    string         `json:"userId,omitempty"`
	IPHash    string         `json:"ipHash,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Filter narrows List results. Limit defaults to 50 and is capped at 200.
type Filter struct {
	Action string
	Entity string
	UserID string
	Limit  int
}

// Store appends and lists audit records.
type Store interface {
	AppendAudit(ctx context.Context, rec Record) error
	ListAudit(ctx context.Context, f Filter) ([]Record, error)
}

// Recorder is the append-only audit collaborator. Persisting is best effort:
// failures are logged and never surface to the caller.
type Recorder struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder builds a recorder; a nil store only mirrors events to the log.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Log records action on entity/entityID.
func (r *Recorder) Log(ctx context.Context, action, entity, entityID string, e Entry) {
	if r == nil {
		return
	}
	rec := Record{
		ID:        ids.New(),
		Action:    strings.TrimSpace(action),
		Entity:    entity,
		EntityID:  entityID,
		UserID:    e.UserID,
		IPHash:    e.IPHash,
		RequestID: RequestIDFromContext(ctx),
		Metadata:  e.Metadata,
		CreatedAt: r.now().UTC(),
	}
	r.logger.Info("audit",
		zap.String("type", "audit"),
		zap.String("event", rec.Action),
		zap.String("entity", rec.Entity),
		zap.String("entity_id", rec.EntityID),
		zap.String("user_id", rec.UserID),
		zap.String("request_id", rec.RequestID),
		zap.Any("fields", rec.Metadata),
	)
	if r.store == nil {
		return
	}
	if err := r.store.AppendAudit(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("audit append failed", zap.String("event", rec.Action), zap.Error(err))
	}
}

// List returns the most recent records matching f.
func (r *Recorder) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if r.store == nil {
		return nil, nil
	}
	return r.store.ListAudit(ctx, f)
}
