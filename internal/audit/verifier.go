package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Integrity failure codes reported by chain verification.
const (
	FailurePrevHashMismatch   = "prev_hash_mismatch"
	FailureMissingCurrentHash = "missing_current_hash"
	FailureHashMismatch       = "hash_mismatch"
)

// ChainFailure describes the first point of divergence found while
// walking a chain.
type ChainFailure struct {
	Module   string `json:"module"`
	Code     string `json:"code"`
	EntryID  int64  `json:"entry_id"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// ChainResult is the outcome of verifying all chains for one object.
// Integrity failures are data, not errors: a non-nil Failure with OK
// false reports the first divergence found.
type ChainResult struct {
	OK      bool           `json:"ok"`
	Checked int            `json:"checked"`
	Modules map[string]int `json:"modules"`
	Failure *ChainFailure  `json:"failure,omitempty"`
}

// ObjectFailure records one object that failed batch verification.
// Detail is set for integrity failures; Error is set when the object
// could not be verified at all (storage failure).
type ObjectFailure struct {
	ObjectType string       `json:"object_type"`
	ObjectID   string       `json:"object_id"`
	Detail     *ChainResult `json:"detail,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// BatchOptions bound a batch verification run.
type BatchOptions struct {
	// Modules to verify. Defaults to the chained module set.
	Modules []string
	// Hours is the trailing window; minimum 1.
	Hours int
	// Limit caps the number of distinct objects verified; minimum 1.
	Limit int
	// ObjectType optionally restricts the scan to one object type.
	ObjectType string
	// IncludeSequenceCheck also runs the contract sequence checker for
	// contract objects.
	IncludeSequenceCheck bool
}

// BatchResult aggregates a batch verification run.
type BatchResult struct {
	OK                   bool              `json:"ok"`
	CheckedObjects       int               `json:"checked_objects"`
	WindowHours          int               `json:"window_hours"`
	Modules              []string          `json:"modules"`
	Failures             []ObjectFailure   `json:"failures"`
	SequenceFailures     []*SequenceResult `json:"sequence_failures"`
	FailureCount         int               `json:"failure_count"`
	SequenceFailureCount int               `json:"sequence_failure_count"`
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Store   Store
	Logger  *slog.Logger
	Metrics *Metrics

	// Sequences enables the contract action-sequence check during batch
	// verification. Optional; chain verification is independent of it.
	Sequences *SequenceChecker

	// SelfAudit, when set, records an audit entry for each batch run
	// with the options and summary as snapshots.
	SelfAudit *Writer

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Verifier replays stored chains and recomputes every hash, reporting
// the first divergence per object. It takes no locks and reads only
// committed entries, so it is always safe to run while writes are in
// flight.
type Verifier struct {
	store     Store
	logger    *slog.Logger
	metrics   *Metrics
	sequences *SequenceChecker
	selfAudit *Writer
	now       func() time.Time
}

// NewVerifier creates a Verifier.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	if config.Store == nil {
		return nil, ErrNilStore
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Verifier{
		store:     config.Store,
		logger:    config.Logger,
		metrics:   config.Metrics,
		sequences: config.Sequences,
		selfAudit: config.SelfAudit,
		now:       config.Now,
	}, nil
}

// VerifyChain replays the chains for one object, recomputing each hash
// from stored fields and the expected previous hash. With no modules
// given, every chained module is checked. The returned error reports
// storage failures only; integrity failures come back in the result.
func (v *Verifier) VerifyChain(ctx context.Context, objectType, objectID string, modules ...string) (*ChainResult, error) {
	if len(modules) == 0 {
		modules = ChainedModuleNames()
	}

	result := &ChainResult{OK: true, Modules: make(map[string]int, len(modules))}
	for _, module := range modules {
		entries, err := v.store.EntriesForObject(ctx, module, objectType, objectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load chain for %s %s/%s: %w", module, objectType, objectID, err)
		}

		checked := 0
		expectedPrev := ""
		for _, e := range entries {
			checked++
			if e.Link.PrevHash != expectedPrev {
				return v.finish(&ChainResult{
					Checked: result.Checked + checked,
					Modules: result.Modules,
					Failure: &ChainFailure{
						Module:   module,
						Code:     FailurePrevHashMismatch,
						EntryID:  e.ID,
						Expected: expectedPrev,
						Actual:   e.Link.PrevHash,
					},
				}), nil
			}
			if e.Link.CurrentHash == "" {
				return v.finish(&ChainResult{
					Checked: result.Checked + checked,
					Modules: result.Modules,
					Failure: &ChainFailure{
						Module:  module,
						Code:    FailureMissingCurrentHash,
						EntryID: e.ID,
					},
				}), nil
			}
			recomputed, err := chainDigest(e, expectedPrev)
			if err != nil {
				return nil, fmt.Errorf("failed to recompute hash for entry %d: %w", e.ID, err)
			}
			if recomputed != e.Link.CurrentHash {
				return v.finish(&ChainResult{
					Checked: result.Checked + checked,
					Modules: result.Modules,
					Failure: &ChainFailure{
						Module:   module,
						Code:     FailureHashMismatch,
						EntryID:  e.ID,
						Expected: recomputed,
						Actual:   e.Link.CurrentHash,
					},
				}), nil
			}
			expectedPrev = e.Link.CurrentHash
		}

		result.Checked += checked
		result.Modules[module] = checked
	}
	return v.finish(result), nil
}

func (v *Verifier) finish(result *ChainResult) *ChainResult {
	result.OK = result.Failure == nil
	if v.metrics != nil {
		v.metrics.IncChainVerifications(result.OK)
		if result.Failure != nil {
			v.metrics.IncIntegrityFailures(result.Failure.Code)
		}
	}
	return result
}

// VerifyChainsBatch verifies every object with chained activity in the
// trailing window, up to the configured limit. One object's failure
// does not abort verification of the others. Designed for periodic
// execution rather than interactive use.
func (v *Verifier) VerifyChainsBatch(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	modules := opts.Modules
	if len(modules) == 0 {
		modules = ChainedModuleNames()
	}
	sort.Strings(modules)
	hours := opts.Hours
	if hours < 1 {
		hours = 1
	}
	limit := opts.Limit
	if limit < 1 {
		limit = 1
	}

	since := v.now().Add(-time.Duration(hours) * time.Hour)
	targets, err := v.store.ObjectsInWindow(ctx, modules, since, opts.ObjectType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select objects for batch verification: %w", err)
	}

	result := &BatchResult{
		WindowHours:      hours,
		Modules:          modules,
		Failures:         []ObjectFailure{},
		SequenceFailures: []*SequenceResult{},
	}

	start := v.now()
	for _, target := range targets {
		chainResult, err := v.VerifyChain(ctx, target.ObjectType, target.ObjectID, modules...)
		result.CheckedObjects++
		if err != nil {
			// Storage trouble for one object must not abort the rest.
			v.logger.Error("chain verification errored",
				slog.String("object_type", target.ObjectType),
				slog.String("object_id", target.ObjectID),
				slog.String("error", err.Error()))
			result.Failures = append(result.Failures, ObjectFailure{
				ObjectType: target.ObjectType,
				ObjectID:   target.ObjectID,
				Error:      err.Error(),
			})
			continue
		}
		if !chainResult.OK {
			result.Failures = append(result.Failures, ObjectFailure{
				ObjectType: target.ObjectType,
				ObjectID:   target.ObjectID,
				Detail:     chainResult,
			})
			continue
		}

		if opts.IncludeSequenceCheck && v.sequences != nil && target.ObjectType == ObjectTypeContract {
			seqResult, err := v.sequences.CheckContract(ctx, target.ObjectID)
			if err != nil {
				// A contract whose sequence could not be evaluated must
				// count as a failed check, not a clean run.
				v.logger.Error("contract sequence check errored",
					slog.String("object_id", target.ObjectID),
					slog.String("error", err.Error()))
				result.SequenceFailures = append(result.SequenceFailures, &SequenceResult{
					ObjectID: target.ObjectID,
					Error:    err.Error(),
				})
				continue
			}
			if !seqResult.OK {
				result.SequenceFailures = append(result.SequenceFailures, seqResult)
			}
		}
	}

	result.FailureCount = len(result.Failures)
	result.SequenceFailureCount = len(result.SequenceFailures)
	result.OK = result.FailureCount == 0 && result.SequenceFailureCount == 0

	if v.metrics != nil {
		v.metrics.ObserveBatchDuration(v.now().Sub(start).Seconds())
		v.metrics.SetLastBatchObjects(float64(result.CheckedObjects))
	}

	v.recordSelfAudit(ctx, opts, result)
	return result, nil
}

// recordSelfAudit leaves an audit trail of the verification run itself,
// with the options as the before snapshot and the summary as the after
// snapshot.
func (v *Verifier) recordSelfAudit(ctx context.Context, opts BatchOptions, result *BatchResult) {
	if v.selfAudit == nil {
		return
	}
	_, err := v.selfAudit.Record(ctx, Event{
		Action: "verify_audit_chains",
		Module: ModuleAudit,
		Before: map[string]any{
			"modules":                opts.Modules,
			"hours":                  opts.Hours,
			"limit":                  opts.Limit,
			"object_type":            opts.ObjectType,
			"include_sequence_check": opts.IncludeSequenceCheck,
		},
		After: map[string]any{
			"ok":                     result.OK,
			"checked_objects":        result.CheckedObjects,
			"failure_count":          result.FailureCount,
			"sequence_failure_count": result.SequenceFailureCount,
		},
	})
	if err != nil {
		v.logger.Warn("failed to record batch verification audit entry",
			slog.String("error", err.Error()))
	}
}
