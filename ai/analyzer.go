// Package ai classifies failures with language-model completions.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"autoheal/models"

	log "github.com/sirupsen/logrus"
)

const maxResponseSize = 1 << 20

// Completer is the orchestrator capability the analyzer needs
type Completer interface {
	Complete(ctx context.Context, prompt string) Completion
}

// AppContext is the fixed application metadata embedded in every prompt
type AppContext struct {
	Name          string
	Stack         string
	Repository    string
	DefaultBranch string
	Notes         string
}

// Analysis is a diagnosis attempt together with where it came from
type Analysis struct {
	Diagnosis *models.Diagnosis
	Provider  string
	Raw       string
	Reason    string
}

// Analyzer turns failure events into validated diagnoses
type Analyzer struct {
	completer Completer
	app       AppContext
}

// NewAnalyzer creates a diagnosis engine
func NewAnalyzer(completer Completer, app AppContext) *Analyzer {
	return &Analyzer{
		completer: completer,
		app:       app,
	}
}

// Diagnose returns a validated diagnosis, or nil when none could be produced.
// A nil result is an expected outcome, not an error.
func (a *Analyzer) Diagnose(ctx context.Context, event models.FailureEvent) *models.Diagnosis {
	return a.Analyze(ctx, event).Diagnosis
}

// Analyze is Diagnose with the provider name and failure reason attached
func (a *Analyzer) Analyze(ctx context.Context, event models.FailureEvent) Analysis {
	entry := logger.WithFields(log.Fields{"event": event.ID, "kind": event.Kind})
	entry.Info("analyzing failure")

	completion := a.completer.Complete(ctx, a.buildPrompt(event))
	analysis := Analysis{Provider: completion.Provider, Raw: completion.Text}

	if completion.IsBasic() {
		analysis.Reason = "no AI provider available"
		entry.Warn("skipping diagnosis, all providers offline")
		return analysis
	}

	diagnosis, err := ParseDiagnosis(completion.Text)
	if err != nil {
		analysis.Reason = err.Error()
		entry.WithFields(log.Fields{
			"provider": completion.Provider,
			"error":    err,
			"response": truncate(completion.Text, 300),
		}).Warn("could not parse diagnosis")
		return analysis
	}

	analysis.Diagnosis = diagnosis
	entry.WithFields(log.Fields{
		"provider":     completion.Provider,
		"severity":     diagnosis.Severity,
		"auto_fixable": diagnosis.AutoFixable,
	}).Info("diagnosis: " + diagnosis.RootCause)
	return analysis
}

// ParseDiagnosis extracts, schema-checks and decodes a diagnosis from
// free-form model output.
func ParseDiagnosis(text string) (*models.Diagnosis, error) {
	if len(text) > maxResponseSize {
		return nil, fmt.Errorf("response exceeds size limit (%d > %d bytes)", len(text), maxResponseSize)
	}

	raw, ok := ExtractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in response")
	}

	if err := validateDiagnosisJSON(raw); err != nil {
		return nil, err
	}

	var diagnosis models.Diagnosis
	if err := json.Unmarshal([]byte(raw), &diagnosis); err != nil {
		return nil, fmt.Errorf("JSON parsing error: %w", err)
	}
	if diagnosis.AffectedFiles == nil {
		diagnosis.AffectedFiles = []string{}
	}
	// a fix on a non auto-fixable diagnosis is never acted on
	if !diagnosis.AutoFixable {
		diagnosis.Fix = nil
	}

	if err := diagnosis.Validate(); err != nil {
		return nil, fmt.Errorf("invalid diagnosis: %w", err)
	}
	return &diagnosis, nil
}

func (a *Analyzer) buildPrompt(event models.FailureEvent) string {
	var sb strings.Builder

	sb.WriteString("You are an expert Site Reliability Engineer. A production web application failed its health check.\n\n")

	sb.WriteString("## Application\n")
	sb.WriteString(fmt.Sprintf("- Name: %s\n", a.app.Name))
	if a.app.Stack != "" {
		sb.WriteString(fmt.Sprintf("- Stack: %s\n", a.app.Stack))
	}
	if a.app.Repository != "" {
		sb.WriteString(fmt.Sprintf("- Repository: %s (default branch %s)\n", a.app.Repository, a.app.DefaultBranch))
	}
	if a.app.Notes != "" {
		sb.WriteString(fmt.Sprintf("- Notes: %s\n", a.app.Notes))
	}
	sb.WriteString("\n")

	sb.WriteString("## Failure\n")
	sb.WriteString(fmt.Sprintf("- Kind: %s\n", event.Kind))
	sb.WriteString(fmt.Sprintf("- URL: %s\n", event.TargetURL))
	if event.StatusCode > 0 {
		sb.WriteString(fmt.Sprintf("- HTTP status: %d\n", event.StatusCode))
	} else {
		sb.WriteString("- HTTP status: none (connection failed or timed out)\n")
	}
	sb.WriteString(fmt.Sprintf("- Detected at: %s\n\n", event.Timestamp.UTC().Format("2006-01-02 15:04:05 MST")))

	sb.WriteString("## Your Task\n")
	sb.WriteString("Diagnose the most likely root cause. Only mark the failure autoFixable if a small, literal\n")
	sb.WriteString("text substitution in one repository file will fix it; oldText must be copied exactly from the file.\n\n")
	sb.WriteString("Respond with a single JSON object in this exact format:\n")
	sb.WriteString(`{
  "rootCause": "one sentence",
  "affectedFiles": ["path/relative/to/repo"],
  "severity": "low|medium|high|critical",
  "autoFixable": true,
  "fix": {"file": "path/relative/to/repo", "changes": [{"oldText": "exact existing text", "newText": "replacement"}]},
  "explanation": "what happened and what the fix does"
}`)
	sb.WriteString("\n\nIf autoFixable is false, set \"fix\" to null. No text outside the JSON object.")

	return sb.String()
}

// truncate keeps the first maxLen runes of s
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
