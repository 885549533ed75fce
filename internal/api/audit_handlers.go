package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/storeops/auditchain/internal/audit"
)

// AuditHandlers serves audit event recording and chain verification.
type AuditHandlers struct {
	writer   *audit.Writer
	verifier *audit.Verifier
	logger   *slog.Logger
}

// NewAuditHandlers creates AuditHandlers.
func NewAuditHandlers(writer *audit.Writer, verifier *audit.Verifier, logger *slog.Logger) *AuditHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandlers{writer: writer, verifier: verifier, logger: logger}
}

// Register mounts the audit routes on the given mux.
func (h *AuditHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /audit/events", h.RecordEvent)
	mux.HandleFunc("GET /audit/chains/{object_type}/{object_id}/verify", h.VerifyChain)
	mux.HandleFunc("POST /audit/verify-batch", h.VerifyBatch)
}

// recordEventRequest is the body for POST /audit/events.
type recordEventRequest struct {
	Action     string          `json:"action"`
	Module     string          `json:"module"`
	ObjectType string          `json:"object_type,omitempty"`
	ObjectID   string          `json:"object_id,omitempty"`
	ActorID    string          `json:"actor_id,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}

// recordEventResponse echoes the stored entry's identity and linkage.
type recordEventResponse struct {
	EntryID     int64  `json:"entry_id"`
	Chained     bool   `json:"chained"`
	PrevHash    string `json:"prev_hash,omitempty"`
	CurrentHash string `json:"current_hash,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// RecordEvent appends one audit entry. Provenance (actor, request id,
// client IP, user agent) is resolved from the request context unless
// given explicitly in the body.
func (h *AuditHandlers) RecordEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req recordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	object := audit.NoObject()
	if req.ObjectType != "" || req.ObjectID != "" {
		object = audit.ObjectKeyRef(req.ObjectType, req.ObjectID)
	}

	var before, after any
	if len(req.Before) > 0 {
		before = req.Before
	}
	if len(req.After) > 0 {
		after = req.After
	}

	entry, err := h.writer.Record(ctx, audit.Event{
		Action:  req.Action,
		Module:  req.Module,
		Object:  object,
		ActorID: req.ActorID,
		Before:  before,
		After:   after,
	})
	if err != nil {
		switch {
		case errors.Is(err, audit.ErrInvalidAction),
			errors.Is(err, audit.ErrInvalidModule),
			errors.Is(err, audit.ErrUnresolvableObject):
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			h.logger.Error("failed to record audit event",
				slog.String("error", err.Error()),
				slog.String("action", req.Action),
				slog.String("module", req.Module))
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to record audit event")
		}
		return
	}

	WriteJSON(w, ctx, http.StatusCreated, recordEventResponse{
		EntryID:     entry.ID,
		Chained:     entry.Link.Chained,
		PrevHash:    entry.Link.PrevHash,
		CurrentHash: entry.Link.CurrentHash,
		CreatedAt:   audit.CanonicalTime(entry.CreatedAt),
	})
}

// VerifyChain verifies the chains for one object and returns the
// structured result. Integrity failures are reported in the body with
// HTTP 200; they are findings, not transport errors.
func (h *AuditHandlers) VerifyChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	objectType := r.PathValue("object_type")
	objectID := r.PathValue("object_id")
	if objectType == "" || objectID == "" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "object_type and object_id are required")
		return
	}

	result, err := h.verifier.VerifyChain(ctx, objectType, objectID)
	if err != nil {
		h.logger.Error("chain verification errored",
			slog.String("error", err.Error()),
			slog.String("object_type", objectType),
			slog.String("object_id", objectID))
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Chain verification failed")
		return
	}

	WriteJSON(w, ctx, http.StatusOK, result)
}

// verifyBatchRequest is the body for POST /audit/verify-batch.
type verifyBatchRequest struct {
	Modules              []string `json:"modules,omitempty"`
	Hours                int      `json:"hours,omitempty"`
	Limit                int      `json:"limit,omitempty"`
	ObjectType           string   `json:"object_type,omitempty"`
	IncludeSequenceCheck bool     `json:"include_sequence_check,omitempty"`
}

// VerifyBatch runs batch verification over a trailing time window.
func (h *AuditHandlers) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.verifier.VerifyChainsBatch(ctx, audit.BatchOptions{
		Modules:              req.Modules,
		Hours:                req.Hours,
		Limit:                req.Limit,
		ObjectType:           req.ObjectType,
		IncludeSequenceCheck: req.IncludeSequenceCheck,
	})
	if err != nil {
		h.logger.Error("batch verification errored", slog.String("error", err.Error()))
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Batch verification failed")
		return
	}

	WriteJSON(w, ctx, http.StatusOK, result)
}
