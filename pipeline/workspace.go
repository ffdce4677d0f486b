package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is a scoped temp directory for one job attempt. It is
// removed when the attempt ends, success or not.
type Workspace struct {
	dir string
}

// NewWorkspace creates a fresh directory under the system temp root.
func NewWorkspace(jobID string) (*Workspace, error) {
	dir, err := os.MkdirTemp("", "adreel-"+jobID+"-")
	if err != nil {
		return nil, fmt.Errorf("pipeline: create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string { return w.dir }

// Path resolves a file name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Close removes the workspace and everything in it.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.dir)
}
