package testutil

import (
	"path/filepath"
	"testing"

	"github.com/printnest/printnest/internal/machine"
)

// NewMachineStore creates a machine store in a temporary directory. The
// store is automatically closed when the test completes.
func NewMachineStore(t *testing.T) *machine.Store {
	t.Helper()
	s, err := machine.Open(filepath.Join(t.TempDir(), "machines.db"))
	if err != nil {
		t.Fatalf("testutil.NewMachineStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
