package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeLabel(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "complete", "complete"},
		{"mixed case", "In_Progress", "in_progress"},
		{"spaces and dashes", " upload-done ", "upload_done"},
		{"unicode", "fertig✓", "fertig_"},
		{"empty string", "", "unknown"},
		{"only spaces", "   ", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeLabel(tc.input); got != tc.expected {
				t.Errorf("SanitizeLabel(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil || reportsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(reportsTotal.WithLabelValues("validating"))
	ObserveReport("Validating")
	if val := testutil.ToFloat64(reportsTotal.WithLabelValues("validating")); val != before+1 {
		t.Errorf("Expected reportsTotal to grow by 1, got %f", val-before)
	}
}

// Fuzz test for SanitizeLabel.
func FuzzSanitizeLabel(f *testing.F) {
	testcases := []string{"complete", "In Progress", "ünïcödé", ""}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeLabel(orig)
		if sanitized == "" {
			t.Errorf("SanitizeLabel(%q) returned an empty string", orig)
		}
		if len(sanitized) > maxLabelLen {
			t.Errorf("SanitizeLabel(%q) longer than %d", orig, maxLabelLen)
		}
	})
}
