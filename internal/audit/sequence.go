package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// ObjectTypeContract is the stable object type name for contracts.
const ObjectTypeContract = "contract"

// ContractStatus is a contract's lifecycle state.
type ContractStatus string

// Contract lifecycle states.
const (
	StatusDraft         ContractStatus = "DRAFT"
	StatusPendingReview ContractStatus = "PENDING_REVIEW"
	StatusApproved      ContractStatus = "APPROVED"
	StatusRejected      ContractStatus = "REJECTED"
	StatusActive        ContractStatus = "ACTIVE"
	StatusExpired       ContractStatus = "EXPIRED"
	StatusTerminated    ContractStatus = "TERMINATED"
)

// Contract lifecycle action names expected in the audit trail.
const (
	ActionSubmitReview       = "submit_contract_review"
	ActionStartApprovalRound = "start_approval_round"
	ActionApproveContract    = "approve_contract"
	ActionRejectContract     = "reject_contract"
	ActionActivateContract   = "activate_contract"
	ActionTerminateContract  = "terminate_contract"
	ActionExpireContract     = "expire_contract"
	ActionArchiveContract    = "archive_contract"
)

// ErrContractNotFound is returned by a ContractStateSource when the
// contract does not exist.
var ErrContractNotFound = errors.New("audit: contract not found")

// ContractState is the current lifecycle position of one contract.
type ContractState struct {
	Status   ContractStatus
	Archived bool
}

// ContractStateSource resolves a contract's current state. The contract
// table itself belongs to the business layer; the sequence checker only
// reads the state to derive which audit actions must exist.
type ContractStateSource interface {
	ContractState(ctx context.Context, objectID string) (*ContractState, error)
}

// SequenceResult reports a contract completeness check. It is advisory:
// a sequence finding never affects hash-chain verification.
type SequenceResult struct {
	OK             bool           `json:"ok"`
	ObjectID       string         `json:"object_id"`
	Status         ContractStatus `json:"status,omitempty"`
	Archived       bool           `json:"archived"`
	MissingActions []string       `json:"missing_actions"`
	ActionCount    int            `json:"action_count"`
	Error          string         `json:"error,omitempty"`
}

// RequiredContractActions returns the audit actions a contract in the
// given state must have in its trail. A contract past DRAFT must have
// been submitted and put through an approval round; states further
// along require the corresponding transition entries.
func RequiredContractActions(state ContractState) []string {
	var required []string
	if state.Status != StatusDraft {
		required = append(required, ActionSubmitReview, ActionStartApprovalRound)
	}
	switch state.Status {
	case StatusApproved, StatusActive, StatusExpired, StatusTerminated:
		required = append(required, ActionApproveContract)
	case StatusRejected:
		required = append(required, ActionRejectContract)
	}
	switch state.Status {
	case StatusActive, StatusExpired, StatusTerminated:
		required = append(required, ActionActivateContract)
	}
	if state.Status == StatusTerminated {
		required = append(required, ActionTerminateContract)
	}
	if state.Status == StatusExpired {
		required = append(required, ActionExpireContract)
	}
	if state.Archived {
		required = append(required, ActionArchiveContract)
	}
	return required
}

// SequenceChecker confirms that no mandatory lifecycle transition is
// missing from a contract's audit trail.
type SequenceChecker struct {
	store  Store
	states ContractStateSource
}

// NewSequenceChecker creates a SequenceChecker.
func NewSequenceChecker(store Store, states ContractStateSource) *SequenceChecker {
	return &SequenceChecker{store: store, states: states}
}

// CheckContract compares the contract's recorded actions against the
// actions its current state requires. A missing contract is reported in
// the result, not as an error; storage failures are errors.
func (c *SequenceChecker) CheckContract(ctx context.Context, objectID string) (*SequenceResult, error) {
	state, err := c.states.ContractState(ctx, objectID)
	if err != nil {
		if errors.Is(err, ErrContractNotFound) {
			return &SequenceResult{
				OK:       false,
				ObjectID: objectID,
				Error:    "contract_not_found",
			}, nil
		}
		return nil, fmt.Errorf("failed to load contract state for %s: %w", objectID, err)
	}

	actions, err := c.store.ActionsForObject(ctx, ModuleContract, ObjectTypeContract, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contract actions for %s: %w", objectID, err)
	}
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		seen[a] = true
	}

	missingSet := make(map[string]bool)
	for _, required := range RequiredContractActions(*state) {
		if !seen[required] {
			missingSet[required] = true
		}
	}
	missing := make([]string, 0, len(missingSet))
	for a := range missingSet {
		missing = append(missing, a)
	}
	sort.Strings(missing)

	return &SequenceResult{
		OK:             len(missing) == 0,
		ObjectID:       objectID,
		Status:         state.Status,
		Archived:       state.Archived,
		MissingActions: missing,
		ActionCount:    len(actions),
	}, nil
}

// StaticContractStates is a map-backed ContractStateSource for tests
// and development.
type StaticContractStates map[string]ContractState

// ContractState implements ContractStateSource.
func (s StaticContractStates) ContractState(ctx context.Context, objectID string) (*ContractState, error) {
	state, ok := s[objectID]
	if !ok {
		return nil, ErrContractNotFound
	}
	return &state, nil
}

// PostgresContractStates reads contract state from the business schema.
type PostgresContractStates struct {
	db *sql.DB
}

// NewPostgresContractStates creates a PostgresContractStates.
func NewPostgresContractStates(db *sql.DB) *PostgresContractStates {
	return &PostgresContractStates{db: db}
}

// ContractState implements ContractStateSource.
func (s *PostgresContractStates) ContractState(ctx context.Context, objectID string) (*ContractState, error) {
	var state ContractState
	query := `SELECT status, is_archived FROM contracts WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, objectID).Scan(&state.Status, &state.Archived)
	if err == sql.ErrNoRows {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contract state: %w", err)
	}
	return &state, nil
}
