// Package audit records business-state mutations as an append-only,
// hash-linked log and verifies that the log has not been altered,
// reordered, or truncated after the fact.
package audit

import (
	"encoding/json"
	"time"
)

// Module names used by audit entries.
const (
	ModuleContract = "contract"
	ModuleFinance  = "finance"
	ModuleAudit    = "audit"
	ModuleStore    = "store"
)

// ChainedModules defines the modules whose entries participate in
// per-object hash chains. Entries for other modules are plain log rows.
var ChainedModules = map[string]bool{
	ModuleContract: true,
	ModuleFinance:  true,
}

// ChainedModuleNames returns the chained module set in sorted order.
func ChainedModuleNames() []string {
	return []string{ModuleContract, ModuleFinance}
}

// ChainLink carries the hash-linkage state of an entry. An entry either
// participates in a chain (Chained true, CurrentHash set, PrevHash empty
// only at the start of the chain) or it does not (both hashes empty).
type ChainLink struct {
	Chained     bool
	PrevHash    string
	CurrentHash string
}

// Entry is one immutable audit record. Entries are created exactly once
// by the Writer and never updated or deleted.
type Entry struct {
	ID         int64
	ActorID    string // empty means system-initiated
	Action     string
	Module     string
	ObjectType string
	ObjectID   string
	BeforeData json.RawMessage // canonical JSON, nil when absent
	AfterData  json.RawMessage // canonical JSON, nil when absent
	IPAddress  string
	UserAgent  string
	RequestID  string
	Link       ChainLink
	CreatedAt  time.Time
}

// Event is the input for recording one audit entry. Explicit provenance
// fields win over values carried in the request context.
type Event struct {
	Action  string
	Module  string
	Object  ObjectRef
	ActorID string

	// Before and After are state snapshots, semantically opaque to the
	// chain logic. Any JSON-marshalable value is accepted.
	Before any
	After  any

	RequestID string
	IPAddress string
	UserAgent string
}
