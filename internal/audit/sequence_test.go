package audit

import (
	"context"
	"reflect"
	"testing"
)

func TestRequiredContractActions(t *testing.T) {
	tests := []struct {
		name  string
		state ContractState
		want  []string
	}{
		{
			name:  "draft needs nothing",
			state: ContractState{Status: StatusDraft},
			want:  nil,
		},
		{
			name:  "pending review",
			state: ContractState{Status: StatusPendingReview},
			want:  []string{ActionSubmitReview, ActionStartApprovalRound},
		},
		{
			name:  "approved",
			state: ContractState{Status: StatusApproved},
			want:  []string{ActionSubmitReview, ActionStartApprovalRound, ActionApproveContract},
		},
		{
			name:  "rejected",
			state: ContractState{Status: StatusRejected},
			want:  []string{ActionSubmitReview, ActionStartApprovalRound, ActionRejectContract},
		},
		{
			name:  "active",
			state: ContractState{Status: StatusActive},
			want:  []string{ActionSubmitReview, ActionStartApprovalRound, ActionApproveContract, ActionActivateContract},
		},
		{
			name:  "terminated",
			state: ContractState{Status: StatusTerminated},
			want: []string{ActionSubmitReview, ActionStartApprovalRound, ActionApproveContract,
				ActionActivateContract, ActionTerminateContract},
		},
		{
			name:  "expired",
			state: ContractState{Status: StatusExpired},
			want: []string{ActionSubmitReview, ActionStartApprovalRound, ActionApproveContract,
				ActionActivateContract, ActionExpireContract},
		},
		{
			name:  "archived draft",
			state: ContractState{Status: StatusDraft, Archived: true},
			want:  []string{ActionArchiveContract},
		},
		{
			name:  "archived active",
			state: ContractState{Status: StatusActive, Archived: true},
			want: []string{ActionSubmitReview, ActionStartApprovalRound, ActionApproveContract,
				ActionActivateContract, ActionArchiveContract},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RequiredContractActions(tt.state)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RequiredContractActions(%+v) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestSequenceChecker_CompleteTrail(t *testing.T) {
	store := NewMemoryStore()
	w := newTestWriter(t, store)
	seedChain(t, w, "10",
		ActionSubmitReview, ActionStartApprovalRound, ActionApproveContract, ActionActivateContract)

	checker := NewSequenceChecker(store, StaticContractStates{
		"10": {Status: StatusActive},
	})
	result, err := checker.CheckContract(context.Background(), "10")
	if err != nil {
		t.Fatalf("CheckContract() error = %v", err)
	}
	if !result.OK {
		t.Errorf("CheckContract() OK = false, missing = %v", result.MissingActions)
	}
	if result.ActionCount != 4 {
		t.Errorf("ActionCount = %d, want 4", result.ActionCount)
	}
}

func TestSequenceChecker_MissingActions(t *testing.T) {
	store := NewMemoryStore()
	w := newTestWriter(t, store)
	seedChain(t, w, "11", ActionSubmitReview, ActionActivateContract)

	checker := NewSequenceChecker(store, StaticContractStates{
		"11": {Status: StatusActive},
	})
	result, err := checker.CheckContract(context.Background(), "11")
	if err != nil {
		t.Fatalf("CheckContract() error = %v", err)
	}
	if result.OK {
		t.Fatal("CheckContract() OK = true with transitions missing")
	}
	want := []string{ActionApproveContract, ActionStartApprovalRound}
	if !reflect.DeepEqual(result.MissingActions, want) {
		t.Errorf("MissingActions = %v, want %v", result.MissingActions, want)
	}
}

func TestSequenceChecker_ContractNotFound(t *testing.T) {
	checker := NewSequenceChecker(NewMemoryStore(), StaticContractStates{})
	result, err := checker.CheckContract(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("CheckContract() error = %v", err)
	}
	if result.OK {
		t.Error("CheckContract() OK = true for nonexistent contract")
	}
	if result.Error != "contract_not_found" {
		t.Errorf("Error = %q, want contract_not_found", result.Error)
	}
}

func TestSequenceChecker_ExtraActionsAllowed(t *testing.T) {
	store := NewMemoryStore()
	w := newTestWriter(t, store)
	// Rejected then resubmitted and approved; rejection entries are
	// extras, never findings.
	seedChain(t, w, "12",
		ActionSubmitReview, ActionStartApprovalRound, ActionRejectContract,
		ActionSubmitReview, ActionStartApprovalRound, ActionApproveContract)

	checker := NewSequenceChecker(store, StaticContractStates{
		"12": {Status: StatusApproved},
	})
	result, err := checker.CheckContract(context.Background(), "12")
	if err != nil {
		t.Fatalf("CheckContract() error = %v", err)
	}
	if !result.OK {
		t.Errorf("CheckContract() OK = false, missing = %v", result.MissingActions)
	}
}
