package audit

import (
	"errors"
	"testing"
)

type fakeContract struct {
	id string
}

func (c fakeContract) AuditObjectType() string { return "contract" }
func (c fakeContract) AuditObjectID() string   { return c.id }

func TestObjectRef_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		ref      ObjectRef
		wantType string
		wantID   string
		wantErr  bool
	}{
		{"instance", ObjectOf(fakeContract{id: "42"}), "contract", "42", false},
		{"type and id", ObjectKeyRef("invoice", "INV-9"), "invoice", "INV-9", false},
		{"descriptor", ObjectDescriptor("contract:42"), "contract", "42", false},
		{"no object", NoObject(), "", "", false},
		{"zero value", ObjectRef{}, "", "", false},
		{"descriptor without separator", ObjectDescriptor("contract42"), "", "", true},
		{"descriptor empty id", ObjectDescriptor("contract:"), "", "", true},
		{"empty type", ObjectKeyRef("", "42"), "", "", true},
		{"nil instance", ObjectOf(nil), "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotID, err := tt.ref.Resolve()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Resolve() error = nil, want error")
				}
				if !errors.Is(err, ErrUnresolvableObject) {
					t.Errorf("Resolve() error = %v, want ErrUnresolvableObject", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if gotType != tt.wantType || gotID != tt.wantID {
				t.Errorf("Resolve() = (%q, %q), want (%q, %q)", gotType, gotID, tt.wantType, tt.wantID)
			}
		})
	}
}

func TestObjectRef_DescriptorIDWithColon(t *testing.T) {
	gotType, gotID, err := ObjectDescriptor("invoice:2024:001").Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if gotType != "invoice" || gotID != "2024:001" {
		t.Errorf("Resolve() = (%q, %q), want (\"invoice\", \"2024:001\")", gotType, gotID)
	}
}
