package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/navicore/spec-service/pkg/domain"
)

func TestNewSpecName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind domain.ValidationKind
		wantErr  bool
	}{
		{name: "simple name", input: "auth"},
		{name: "dots dashes underscores", input: "api-gateway_v2.spec"},
		{name: "single char", input: "a"},
		{name: "max length", input: strings.Repeat("n", 255)},
		{name: "empty", input: "", wantErr: true, wantKind: domain.EmptyName},
		{name: "too long", input: strings.Repeat("n", 256), wantErr: true, wantKind: domain.NameTooLong},
		{name: "spaces rejected", input: "my spec", wantErr: true, wantKind: domain.InvalidCharacters},
		{name: "slash rejected", input: "a/b", wantErr: true, wantKind: domain.InvalidCharacters},
		{name: "unicode rejected", input: "spéc", wantErr: true, wantKind: domain.InvalidCharacters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := domain.NewSpecName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSpecName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Errorf("error should match ErrValidation, got %v", err)
				}
				var verr *domain.ValidationError
				if !errors.As(err, &verr) || verr.Kind != tt.wantKind {
					t.Errorf("expected kind %s, got %v", tt.wantKind, err)
				}
				return
			}
			if got.String() != tt.input {
				t.Errorf("expected %q, got %q", tt.input, got.String())
			}
		})
	}
}

func TestNewSpecContent(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind domain.ValidationKind
		wantErr  bool
	}{
		{name: "simple mapping", input: "a: 1"},
		{name: "plain scalar", input: "x"},
		{name: "nested document", input: "server:\n  host: localhost\n  port: 8080\n"},
		{name: "max length", input: "k: " + strings.Repeat("v", 2045)},
		{name: "empty", input: "", wantErr: true, wantKind: domain.EmptyContent},
		{name: "too large", input: "k: " + strings.Repeat("v", 2046), wantErr: true, wantKind: domain.ContentTooLarge},
		{name: "malformed yaml", input: "key: : :", wantErr: true, wantKind: domain.InvalidYAML},
		{name: "unclosed flow mapping", input: "a: {b: 1", wantErr: true, wantKind: domain.InvalidYAML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := domain.NewSpecContent(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSpecContent(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				var verr *domain.ValidationError
				if !errors.As(err, &verr) || verr.Kind != tt.wantKind {
					t.Errorf("expected kind %s, got %v", tt.wantKind, err)
				}
				return
			}
			if got.String() != tt.input {
				t.Errorf("expected %q, got %q", tt.input, got.String())
			}
		})
	}
}

func TestSpecContentBoundaryLengths(t *testing.T) {
	// Length 2048 is the largest accepted content, 2049 the smallest rejected.
	ok := "a: " + strings.Repeat("x", 2044) + "\n"
	if len(ok) != 2048 {
		t.Fatalf("fixture length = %d, want 2048", len(ok))
	}
	if _, err := domain.NewSpecContent(ok); err != nil {
		t.Errorf("content of length 2048 should be accepted: %v", err)
	}
	if _, err := domain.NewSpecContent(ok + "x"); err == nil {
		t.Error("content of length 2049 should be rejected")
	}
}

func TestParseSpecID(t *testing.T) {
	id := domain.NewSpecID()
	parsed, err := domain.ParseSpecID(id.String())
	if err != nil {
		t.Fatalf("ParseSpecID round trip failed: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip changed id: %s != %s", parsed, id)
	}

	for _, s := range []string{"", "not-a-uuid", "0e05cb49-2b8f-4ee9"} {
		_, err := domain.ParseSpecID(s)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("ParseSpecID(%q) should fail validation, got %v", s, err)
		}
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || verr.Kind != domain.InvalidID {
			t.Errorf("ParseSpecID(%q): expected kind %s, got %v", s, domain.InvalidID, err)
		}
	}
}

func TestParseSpecState(t *testing.T) {
	for _, s := range []string{"draft", "published", "deprecated", "deleted"} {
		got, err := domain.ParseSpecState(s)
		if err != nil {
			t.Errorf("ParseSpecState(%q) unexpected error: %v", s, err)
		}
		if got.String() != s {
			t.Errorf("ParseSpecState(%q) = %q", s, got)
		}
	}

	for _, s := range []string{"", "Draft", "published ", "archived"} {
		if _, err := domain.ParseSpecState(s); err == nil {
			t.Errorf("ParseSpecState(%q) should fail", s)
		}
	}
}

func TestSpecStateTransitions(t *testing.T) {
	tests := []struct {
		from, to domain.SpecState
		want     bool
	}{
		{domain.StateDraft, domain.StatePublished, true},
		{domain.StatePublished, domain.StateDeprecated, true},
		{domain.StateDraft, domain.StateDeleted, true},
		{domain.StatePublished, domain.StateDeleted, true},
		{domain.StateDeprecated, domain.StateDeleted, true},
		{domain.StateDraft, domain.StateDeprecated, false},
		{domain.StateDeprecated, domain.StatePublished, false},
		{domain.StateDeprecated, domain.StateDraft, false},
		{domain.StatePublished, domain.StateDraft, false},
		{domain.StateDeleted, domain.StateDraft, false},
		{domain.StateDeleted, domain.StatePublished, false},
		{domain.StateDeleted, domain.StateDeleted, false},
		{domain.StateDraft, domain.StateDraft, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestVersion(t *testing.T) {
	v := domain.InitialVersion()
	if v != 1 {
		t.Fatalf("initial version = %d, want 1", v)
	}
	if v.Next() != 2 {
		t.Errorf("Next() = %d, want 2", v.Next())
	}
	if domain.Version(41).Next() != 42 {
		t.Errorf("Next() = %d, want 42", domain.Version(41).Next())
	}
}
