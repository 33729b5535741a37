package types

import "testing"

func TestParseID(t *testing.T) {
	id := NewID()

	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if parsed != id {
		t.Errorf("Expected %s, got %s", id, parsed)
	}

	if _, err := ParseID("member-42"); err == nil {
		t.Error("Expected error for non-UUID input")
	}
}

func TestOptionalHelpers(t *testing.T) {
	id := NewID()

	if ID("").Ptr() != nil {
		t.Error("Zero ID should produce a nil pointer")
	}
	if p := id.Ptr(); p == nil || *p != id {
		t.Error("Ptr should point at a copy of the ID")
	}
	if !id.Matches(id.Ptr()) {
		t.Error("ID should match a pointer to itself")
	}
	if id.Matches(nil) {
		t.Error("ID should not match nil")
	}
	if ID("").Matches(ID("").Ptr()) {
		t.Error("Zero ID should never match")
	}
	if Deref(nil) != "" {
		t.Error("Deref(nil) should be the zero ID")
	}
}

func TestScan(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected ID
		wantErr  bool
	}{
		{"nil", nil, "", false},
		{"string", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", false},
		{"bytes", []byte("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), "6ba7b810-9dad-11d1-80b4-00c04fd430c8", false},
		{"int", 42, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID
			err := id.Scan(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && id != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, id)
			}
		})
	}
}
