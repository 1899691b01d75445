package validation

import (
	"strings"
	"testing"
)

func TestIsValidTenantID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"acme", true},
		{"acme-corp", true},
		{"tenant_42", true},
		{"a", true},
		{"0studio", true},

		// Invalid cases
		{"", false},
		{"Acme", false},        // uppercase
		{"-acme", false},       // leading dash
		{"_acme", false},       // leading underscore
		{"acme corp", false},   // space
		{"acme.corp", false},   // dot
		{"tenant!", false},     // punctuation
		{strings.Repeat("a", 70), false}, // too long
	}

	for _, tc := range tests {
		result := IsValidTenantID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidTenantID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"null\x00byte", 20, "nullbyte"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestNormalizePromoCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"welcome500", "WELCOME500"},
		{"  Welcome500  ", "WELCOME500"},
		{"WELCOME500", "WELCOME500"},
		{"", ""},
	}

	for _, tc := range tests {
		result := NormalizePromoCode(tc.input)
		if result != tc.expected {
			t.Errorf("NormalizePromoCode(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("name", ""),
		ValidTenantID("tenantId", "Bad Tenant"),
		PositiveAmount("amount", -5),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestValidate_AllPass(t *testing.T) {
	errs := Validate(
		Required("name", "ok"),
		ValidTenantID("tenantId", "acme"),
		PositiveAmount("amount", 100),
		MaxLength("name", "ok", 10),
	)
	if len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}
