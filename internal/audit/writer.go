package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/storeops/auditchain/internal/middleware"
)

var (
	// ErrNilStore is returned when a Writer is constructed without a store.
	ErrNilStore = errors.New("audit: store cannot be nil")
	// ErrInvalidAction is returned when an empty action is recorded.
	ErrInvalidAction = errors.New("audit: action cannot be empty")
	// ErrInvalidModule is returned when an empty module is recorded.
	ErrInvalidModule = errors.New("audit: module cannot be empty")
)

// WriterConfig configures an audit Writer.
type WriterConfig struct {
	Store   Store
	Logger  *slog.Logger
	Metrics *Metrics

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Writer appends audit entries. For chained modules it links each entry
// to the previous one for the same (module, object) pair; the store
// serializes the read-prev/compute/append sequence per key so concurrent
// writers cannot fork a chain.
//
// Write failures propagate to the caller. An audit write is never
// silently dropped: the business mutation and its audit entry should be
// treated as one unit by the caller.
type Writer struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewWriter creates a Writer.
func NewWriter(config WriterConfig) (*Writer, error) {
	if config.Store == nil {
		return nil, ErrNilStore
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Writer{
		store:   config.Store,
		logger:  config.Logger,
		metrics: config.Metrics,
		now:     config.Now,
	}, nil
}

// Record appends one audit entry for the given event and returns the
// stored entry.
//
// Provenance resolution: explicit event fields win; otherwise values
// are pulled from the request context; otherwise they are left empty.
// An unresolvable object reference fails fast with
// ErrUnresolvableObject.
func (w *Writer) Record(ctx context.Context, ev Event) (*Entry, error) {
	if ev.Action == "" {
		return nil, ErrInvalidAction
	}
	if ev.Module == "" {
		return nil, ErrInvalidModule
	}

	objectType, objectID, err := ev.Object.Resolve()
	if err != nil {
		return nil, err
	}

	before, err := canonicalSnapshot(ev.Before)
	if err != nil {
		return nil, fmt.Errorf("audit: invalid before snapshot: %w", err)
	}
	after, err := canonicalSnapshot(ev.After)
	if err != nil {
		return nil, fmt.Errorf("audit: invalid after snapshot: %w", err)
	}

	entry := &Entry{
		ActorID:    resolve(ev.ActorID, middleware.GetActorID(ctx)),
		Action:     ev.Action,
		Module:     ev.Module,
		ObjectType: objectType,
		ObjectID:   objectID,
		BeforeData: before,
		AfterData:  after,
		RequestID:  resolve(ev.RequestID, middleware.GetRequestID(ctx)),
		IPAddress:  resolve(ev.IPAddress, middleware.GetClientIP(ctx)),
		UserAgent:  resolve(ev.UserAgent, middleware.GetUserAgent(ctx)),
	}

	chained := ChainedModules[ev.Module] && objectType != "" && objectID != ""

	var stored *Entry
	if chained {
		stored, err = w.store.AppendChained(ctx, entry, func(prevHash string) (ChainLink, error) {
			// CreatedAt is assigned while the chain key is held so the
			// (created_at, id) order matches the link order.
			entry.CreatedAt = w.now().UTC().Truncate(time.Microsecond)
			digest, err := chainDigest(entry, prevHash)
			if err != nil {
				return ChainLink{}, err
			}
			return ChainLink{Chained: true, PrevHash: prevHash, CurrentHash: digest}, nil
		})
	} else {
		entry.CreatedAt = w.now().UTC().Truncate(time.Microsecond)
		stored, err = w.store.Append(ctx, entry)
	}
	if err != nil {
		if w.metrics != nil {
			w.metrics.IncWriteErrors(ev.Module)
		}
		w.logger.Error("failed to append audit entry",
			slog.String("error", err.Error()),
			slog.String("action", ev.Action),
			slog.String("module", ev.Module),
			slog.String("object_type", objectType),
			slog.String("object_id", objectID))
		return nil, err
	}

	if w.metrics != nil {
		w.metrics.IncEntries(ev.Module, chained)
	}
	w.logger.Debug("audit entry recorded",
		slog.Int64("entry_id", stored.ID),
		slog.String("action", stored.Action),
		slog.String("module", stored.Module),
		slog.String("object_type", stored.ObjectType),
		slog.String("object_id", stored.ObjectID),
		slog.Bool("chained", chained))
	return stored, nil
}

// canonicalSnapshot serializes a snapshot to canonical JSON once at
// write time, so recomputing the hash from stored bytes is stable.
func canonicalSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return nil, nil
		}
		return canonicalizeRaw(raw)
	}
	return CanonicalJSON(v)
}

func resolve(explicit, ambient string) string {
	if explicit != "" {
		return explicit
	}
	return ambient
}
