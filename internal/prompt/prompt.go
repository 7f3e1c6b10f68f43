// Package prompt renders the instructions sent to the reasoning and
// generation tools and extracts structured answers from their replies.
package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// Renderer renders prompts from embedded templates.
type Renderer struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

var (
	defaultOnce     sync.Once
	defaultRenderer *Renderer
	defaultErr      error
)

// Default returns a process-wide renderer. Templates are embedded, so a
// load failure is a build defect and is reported on every call.
func Default() (*Renderer, error) {
	defaultOnce.Do(func() {
		defaultRenderer, defaultErr = NewRenderer()
	})
	return defaultRenderer, defaultErr
}

// NewRenderer creates a renderer with every embedded template loaded.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[string]*template.Template),
	}
	if err := r.loadTemplates(); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return r, nil
}

func (r *Renderer) loadTemplates() error {
	return fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}

		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := strings.TrimSuffix(strings.TrimPrefix(path, "prompts/"), ".md.tmpl")
		tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}
		r.templates[name] = tmpl
		return nil
	})
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join":      strings.Join,
		"trimSpace": strings.TrimSpace,
		"upper":     strings.ToUpper,
		"json":      toJSON,
		"truncate":  truncate,
	}
}

func toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func truncate(n int, s string) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Render executes the named template.
func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Names lists the loaded templates.
func (r *Renderer) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// IntentParams feeds the intent classification prompt.
type IntentParams struct {
	Instruction string
}

// RenderIntentSystem renders the classifier's system prompt.
func (r *Renderer) RenderIntentSystem() (string, error) {
	return r.render("intent-system", nil)
}

// RenderIntent renders the classification request.
func (r *Renderer) RenderIntent(p IntentParams) (string, error) {
	return r.render("intent", p)
}

// RenderAnalystSystem renders the system prompt shared by phase executors.
func (r *Renderer) RenderAnalystSystem() (string, error) {
	return r.render("analyst-system", nil)
}

// MonitorParams feeds the anomaly detection prompt.
type MonitorParams struct {
	Instruction string
	Platforms   []string
	Campaigns   any
	Alerts      any
	Failures    []string
}

// RenderMonitor renders the monitoring prompt.
func (r *Renderer) RenderMonitor(p MonitorParams) (string, error) {
	return r.render("monitor", p)
}

// AnalyzeParams feeds the performance analysis prompt.
type AnalyzeParams struct {
	Instruction string
	Monitor     string
	Benchmarks  any
	History     any
	Failures    []string
}

// RenderAnalyze renders the analysis prompt.
func (r *Renderer) RenderAnalyze(p AnalyzeParams) (string, error) {
	return r.render("analyze", p)
}

// PlanActionsParams feeds the action planning prompt.
type PlanActionsParams struct {
	Instruction string
	Entities    any
	Prior       string
}

// RenderPlanActions renders the action planning prompt.
func (r *Renderer) RenderPlanActions(p PlanActionsParams) (string, error) {
	return r.render("plan-actions", p)
}

// OptimizeParams feeds the recommendation and creative prompts.
type OptimizeParams struct {
	Instruction string
	Prior       string
	Platform    string
	Variants    int
}

// RenderOptimize renders the recommendation prompt.
func (r *Renderer) RenderOptimize(p OptimizeParams) (string, error) {
	return r.render("optimize", p)
}

// RenderCreatives renders the creative generation prompt.
func (r *Renderer) RenderCreatives(p OptimizeParams) (string, error) {
	return r.render("creatives", p)
}

// PhaseReportParams feeds the report composition prompt.
type PhaseReportParams struct {
	Instruction string
	IntentType  string
	Results     []PhaseDigest
}

// PhaseDigest is one prior phase result as shown to the model.
type PhaseDigest struct {
	Phase   string
	Summary string
	Payload string
}

// RenderPhaseReport renders the report composition prompt.
func (r *Renderer) RenderPhaseReport(p PhaseReportParams) (string, error) {
	return r.render("phase-report", p)
}

// ValidateParams feeds the validation gate prompt.
type ValidateParams struct {
	Instruction       string
	Phase             string
	Payload           string
	SupportingContext string
}

// RenderValidateSystem renders the gate's system prompt.
func (r *Renderer) RenderValidateSystem() (string, error) {
	return r.render("validate-system", nil)
}

// RenderValidate renders the gate's grading request.
func (r *Renderer) RenderValidate(p ValidateParams) (string, error) {
	return r.render("validate", p)
}

// SummarizeParams feeds the final narrative summary prompt.
type SummarizeParams struct {
	Instruction string
	Status      string
	StopReason  string
	Results     []PhaseDigest
	Errors      []string
}

// RenderSummarize renders the summary prompt.
func (r *Renderer) RenderSummarize(p SummarizeParams) (string, error) {
	return r.render("summarize", p)
}

func (r *Renderer) render(name string, data any) (string, error) {
	return r.Render(name, data)
}
