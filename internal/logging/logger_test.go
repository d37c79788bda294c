package logging

import (
	"testing"

	"go.uber.org/zap"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	logger.Info("development logger ready")
	if err := Sync(logger); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

// TestInstallReplacesGlobals is not parallel: it swaps the zap globals.
func TestInstallReplacesGlobals(t *testing.T) {
	logger := zap.NewExample()
	restore := Install(logger)
	if zap.L() != logger {
		t.Fatal("expected global logger to be replaced")
	}
	restore()
	if zap.L() == logger {
		t.Fatal("expected global logger to be restored")
	}
	Install(nil)()
	if err := Sync(nil); err != nil {
		t.Fatalf("Sync(nil) error = %v", err)
	}
}
