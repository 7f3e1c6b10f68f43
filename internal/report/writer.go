// Package report publishes final workflow reports as markdown documents
// with YAML frontmatter, next to a JSON copy of the report.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/fsutil"
)

// Config configures the report writer
type Config struct {
	Dir     string // default: ".adpilot/reports"
	UseUTC  bool   // default: true
	Enabled bool   // whether to write reports
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Dir:     ".adpilot/reports",
		UseUTC:  true,
		Enabled: true,
	}
}

// Writer writes one directory per workflow under Config.Dir.
type Writer struct {
	mu     sync.Mutex
	config Config
}

// NewWriter creates a report writer.
func NewWriter(cfg Config) *Writer {
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}
	return &Writer{config: cfg}
}

// Path returns the markdown path for a workflow.
func (w *Writer) Path(id core.WorkflowID) string {
	return filepath.Join(w.config.Dir, string(id), "report.md")
}

// Write renders report and writes report.md and report.json atomically.
// It returns the markdown path, or "" when the writer is disabled.
func (w *Writer) Write(report *core.FinalReport) (string, error) {
	if !w.config.Enabled {
		return "", nil
	}
	if report == nil || report.WorkflowID == "" {
		return "", fmt.Errorf("report has no workflow id")
	}

	dir := filepath.Join(w.config.Dir, string(report.WorkflowID))
	if err := w.ensureWithinDir(dir); err != nil {
		return "", err
	}

	fm, err := frontmatterFor(report, w.config.UseUTC).Render()
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	mdPath := filepath.Join(dir, "report.md")
	if err := fsutil.WriteFileAtomic(mdPath, []byte(fm+Render(report)), 0o640); err != nil {
		return "", fmt.Errorf("writing %s: %w", mdPath, err)
	}
	jsonPath := filepath.Join(dir, "report.json")
	if err := fsutil.WriteFileAtomic(jsonPath, data, 0o640); err != nil {
		return "", fmt.Errorf("writing %s: %w", jsonPath, err)
	}
	return mdPath, nil
}

// Read returns the markdown body and frontmatter of a written report.
func (w *Writer) Read(id core.WorkflowID) (map[string]interface{}, string, error) {
	path := w.Path(id)
	if err := w.ensureWithinDir(filepath.Dir(path)); err != nil {
		return nil, "", err
	}
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", core.ErrNotFound("report", string(id))
		}
		return nil, "", fmt.Errorf("reading report: %w", err)
	}
	fields, body, _, err := SplitFrontmatter(string(data))
	return fields, body, err
}

func (w *Writer) ensureWithinDir(path string) error {
	baseAbs, err := filepath.Abs(w.config.Dir)
	if err != nil {
		return fmt.Errorf("resolving report directory: %w", err)
	}
	targetAbs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving report path: %w", err)
	}
	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("report path escapes report directory")
	}
	return nil
}
