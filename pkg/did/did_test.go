package did_test

import (
	"strings"
	"testing"

	"github.com/agentvault/agentvault/pkg/did"
)

func TestParse_valid(t *testing.T) {
	cases := []struct {
		input  string
		id     string
		system bool
	}{
		{
			input:  "did:cos:7c9e6679-7425-40de-944b-e07fc1f90ae7",
			id:     "7c9e6679-7425-40de-944b-e07fc1f90ae7",
			system: false,
		},
		{
			input:  "did:cos:treasury",
			id:     "treasury",
			system: true,
		},
		{
			input:  "did:cos:escrow_disputes",
			id:     "escrow_disputes",
			system: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			d, err := did.Parse(tc.input)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.input, err)
			}
			if d.Method != "cos" {
				t.Errorf("Method = %q, want cos", d.Method)
			}
			if d.ID != tc.id {
				t.Errorf("ID = %q, want %q", d.ID, tc.id)
			}
			if d.IsSystem() != tc.system {
				t.Errorf("IsSystem() = %v, want %v", d.IsSystem(), tc.system)
			}
			if d.String() != tc.input {
				t.Errorf("String() = %q, want %q", d.String(), tc.input)
			}
		})
	}
}

func TestParse_invalid(t *testing.T) {
	cases := []string{
		"",
		"did:cos:",
		"did:web:example.com",
		"agent://acme/finance/a1",
		"did:cos:UPPER_CASE",
		"did:cos:has space",
	}
	for _, input := range cases {
		if _, err := did.Parse(input); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", input)
		}
	}
}

func TestNew_isValidUUID(t *testing.T) {
	d := did.New()
	if !strings.HasPrefix(d, "did:cos:") {
		t.Fatalf("New() = %q, want did:cos: prefix", d)
	}
	parsed, err := did.Parse(d)
	if err != nil {
		t.Fatalf("Parse(New()): %v", err)
	}
	if parsed.IsSystem() {
		t.Errorf("New() produced a system DID: %q", d)
	}
}

func TestTreasuryIsWellFormed(t *testing.T) {
	if !did.IsValid(did.Treasury) {
		t.Fatalf("treasury DID %q is not valid", did.Treasury)
	}
}
