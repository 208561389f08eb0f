package processor

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is an isolated per-job filesystem area with input/ and output/
// staging subdirectories. It is owned by exactly one processing call and
// released before that call returns.
type Workspace struct {
	JobID     string
	Dir       string
	InputDir  string
	OutputDir string
}

// NewWorkspace allocates the workspace directories for a job under root.
func NewWorkspace(root, jobID string) (*Workspace, error) {
	ws := &Workspace{
		JobID:     jobID,
		Dir:       filepath.Join(root, jobID),
		InputDir:  filepath.Join(root, jobID, "input"),
		OutputDir: filepath.Join(root, jobID, "output"),
	}

	for _, dir := range []string{ws.InputDir, ws.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace dir %s: %w", dir, err)
		}
	}
	return ws, nil
}

// Remove deletes the whole workspace tree.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Dir)
}

// OutputFiles lists every regular file under output/, as paths relative to
// the output directory.
func (w *Workspace) OutputFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.OutputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(w.OutputDir, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list output files: %w", err)
	}
	return files, nil
}
