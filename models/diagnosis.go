package models

import (
	"fmt"
	"strings"
)

// Severity is the ordinal classification of a diagnosis
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Change is a literal find/replace against the current file content
type Change struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

// FixPlan is an ordered set of substitutions against one file
type FixPlan struct {
	File    string   `json:"file"`
	Changes []Change `json:"changes"`
}

// Diagnosis is the structured root-cause analysis of a failure.
// Fix is non-nil exactly when AutoFixable is true.
type Diagnosis struct {
	RootCause     string   `json:"rootCause"`
	AffectedFiles []string `json:"affectedFiles"`
	Severity      Severity `json:"severity"`
	AutoFixable   bool     `json:"autoFixable"`
	Fix           *FixPlan `json:"fix,omitempty"`
	Explanation   string   `json:"explanation"`
}

// Validate checks the invariants that JSON schema validation cannot express
func (d *Diagnosis) Validate() error {
	if strings.TrimSpace(d.RootCause) == "" {
		return fmt.Errorf("missing rootCause")
	}
	if !d.Severity.Valid() {
		return fmt.Errorf("invalid severity: %q", d.Severity)
	}
	if d.AutoFixable && d.Fix == nil {
		return fmt.Errorf("autoFixable diagnosis without fix")
	}
	if !d.AutoFixable && d.Fix != nil {
		return fmt.Errorf("fix present on non auto-fixable diagnosis")
	}
	if d.Fix != nil {
		if strings.TrimSpace(d.Fix.File) == "" {
			return fmt.Errorf("fix has no file")
		}
		if len(d.Fix.Changes) == 0 {
			return fmt.Errorf("fix has no changes")
		}
		for i, c := range d.Fix.Changes {
			if c.OldText == "" {
				return fmt.Errorf("change %d has empty oldText", i)
			}
		}
	}
	return nil
}

// PullRequestRecord is the terminal artifact of a successful remediation
type PullRequestRecord struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
	Merged bool   `json:"merged"`
}

// PublishStep names a step of the fix publishing workflow
type PublishStep string

const (
	StepPrecondition PublishStep = "precondition"
	StepResolveBase  PublishStep = "resolve-base"
	StepCreateBranch PublishStep = "create-branch"
	StepApplyPatch   PublishStep = "apply-patch"
	StepOpenPR       PublishStep = "open-pr"
	StepMerge        PublishStep = "merge"
)

// PublishResult reports how far fix publishing got
type PublishResult struct {
	Success     bool               `json:"success"`
	PRURL       string             `json:"pr_url,omitempty"`
	AutoMerged  bool               `json:"auto_merged"`
	Reason      string             `json:"reason,omitempty"`
	FailedStep  PublishStep        `json:"failed_step,omitempty"`
	PullRequest *PullRequestRecord `json:"pull_request,omitempty"`
}
