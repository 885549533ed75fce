package audit

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolvableObject is returned when an object reference cannot be
// resolved to a (object_type, object_id) pair. This is a programming
// error at the call site, not a chain-integrity condition.
var ErrUnresolvableObject = errors.New("audit: unresolvable object reference")

// Auditable is implemented by business entities that can appear in the
// audit log. Implementations must return stable values: the type name
// must survive renames of database-level identifiers and the ID must be
// the entity's canonical key.
type Auditable interface {
	AuditObjectType() string
	AuditObjectID() string
}

type refKind int

const (
	refNone refKind = iota
	refInstance
	refTypeAndID
	refDescriptor
)

// ObjectRef identifies the business entity an audit entry pertains to.
// It is a tagged value with three concrete forms: an entity instance, an
// explicit type+id pair, or a "type:id" string descriptor. The zero
// value means "no object" and resolves to an empty pair, producing an
// unchained entry.
type ObjectRef struct {
	kind       refKind
	instance   Auditable
	objectType string
	objectID   string
	descriptor string
}

// ObjectOf references an entity instance.
func ObjectOf(a Auditable) ObjectRef {
	return ObjectRef{kind: refInstance, instance: a}
}

// ObjectKeyRef references an entity by explicit type and id.
func ObjectKeyRef(objectType, objectID string) ObjectRef {
	return ObjectRef{kind: refTypeAndID, objectType: objectType, objectID: objectID}
}

// ObjectDescriptor references an entity by a "type:id" string, e.g.
// "contract:42".
func ObjectDescriptor(descriptor string) ObjectRef {
	return ObjectRef{kind: refDescriptor, descriptor: descriptor}
}

// NoObject is the explicit form of the zero ObjectRef, for system-wide
// events that pertain to no single entity.
func NoObject() ObjectRef {
	return ObjectRef{}
}

// Resolve produces the canonical (object_type, object_id) pair.
func (r ObjectRef) Resolve() (objectType, objectID string, err error) {
	switch r.kind {
	case refNone:
		return "", "", nil
	case refInstance:
		if r.instance == nil {
			return "", "", fmt.Errorf("%w: nil instance", ErrUnresolvableObject)
		}
		objectType = r.instance.AuditObjectType()
		objectID = r.instance.AuditObjectID()
	case refTypeAndID:
		objectType = r.objectType
		objectID = r.objectID
	case refDescriptor:
		var ok bool
		objectType, objectID, ok = strings.Cut(r.descriptor, ":")
		if !ok {
			return "", "", fmt.Errorf("%w: descriptor %q is not of the form type:id", ErrUnresolvableObject, r.descriptor)
		}
	}
	if objectType == "" || objectID == "" {
		return "", "", fmt.Errorf("%w: empty object type or id", ErrUnresolvableObject)
	}
	return objectType, objectID, nil
}
