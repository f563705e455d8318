package remediation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"autoheal/github"
	"autoheal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const mergeMethod = "squash"

// errNoMatch marks a change whose oldText is absent from the file
var errNoMatch = errors.New("oldText not found")

// Repository is the subset of the hosting API the publisher drives
type Repository interface {
	Repository() string
	GetRef(ctx context.Context, branch string) (string, error)
	CreateRef(ctx context.Context, branch, sha string) error
	GetFile(ctx context.Context, path, ref string) (*github.FileContent, error)
	PutFile(ctx context.Context, path, content, sha, branch, message string) error
	CreatePullRequest(ctx context.Context, head, base, title, body string) (*github.PullRequest, error)
	MergePullRequest(ctx context.Context, number int, method string) error
}

// DeployPolicy reports whether opened pull requests may be merged unreviewed
type DeployPolicy interface {
	AutoDeployEnabled() bool
}

// PublisherConfig configures a Publisher
type PublisherConfig struct {
	DefaultBranch string

	// RequireMatch fails the apply-patch step when a change's oldText is
	// absent. When false such a change is skipped and nothing is written.
	RequireMatch bool

	// Now and NewID make branch names deterministic in tests
	Now   func() time.Time
	NewID func() string
}

// Publisher turns an auto-fixable diagnosis into a pull request
type Publisher struct {
	repo   Repository
	policy DeployPolicy
	cfg    PublisherConfig
}

// NewPublisher creates a fix publisher
func NewPublisher(repo Repository, policy DeployPolicy, cfg PublisherConfig) *Publisher {
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "main"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	return &Publisher{repo: repo, policy: policy, cfg: cfg}
}

// Publish runs branch → patch → pull request → conditional merge.
// Any failing step stops the run; remote state already created is left as is.
func (p *Publisher) Publish(ctx context.Context, d models.Diagnosis) models.PublishResult {
	if !d.AutoFixable || d.Fix == nil {
		return models.PublishResult{Reason: "not auto-fixable", FailedStep: models.StepPrecondition}
	}

	branch := p.branchName()
	entry := logger.WithFields(log.Fields{"repo": p.repo.Repository(), "branch": branch})
	entry.Info("publishing fix")

	baseSHA, err := p.repo.GetRef(ctx, p.cfg.DefaultBranch)
	if err != nil {
		return failed(entry, models.StepResolveBase, err, nil)
	}

	if err := p.repo.CreateRef(ctx, branch, baseSHA); err != nil {
		return failed(entry, models.StepCreateBranch, err, nil)
	}

	if err := p.applyChanges(ctx, branch, d); err != nil {
		return failed(entry, models.StepApplyPatch, err, nil)
	}

	pr, err := p.repo.CreatePullRequest(ctx, branch, p.cfg.DefaultBranch, pullRequestTitle(d), pullRequestBody(d))
	if err != nil {
		return failed(entry, models.StepOpenPR, err, nil)
	}
	record := &models.PullRequestRecord{Number: pr.Number, URL: pr.URL, Branch: branch}
	entry = entry.WithField("pr", pr.Number)

	if p.policy.AutoDeployEnabled() && !d.Severity.AtLeast(models.SeverityCritical) {
		if err := p.repo.MergePullRequest(ctx, pr.Number, mergeMethod); err != nil {
			return failed(entry, models.StepMerge, err, record)
		}
		record.Merged = true
		entry.Info("pull request merged")
	} else {
		entry.WithField("severity", d.Severity).Info("pull request awaiting review")
	}

	return models.PublishResult{
		Success:     true,
		PRURL:       pr.URL,
		AutoMerged:  record.Merged,
		PullRequest: record,
	}
}

func (p *Publisher) applyChanges(ctx context.Context, branch string, d models.Diagnosis) error {
	path := d.Fix.File
	for i, change := range d.Fix.Changes {
		file, err := p.repo.GetFile(ctx, path, branch)
		if err != nil {
			return fmt.Errorf("change %d: %w", i+1, err)
		}

		if !strings.Contains(file.Content, change.OldText) {
			if p.cfg.RequireMatch {
				return fmt.Errorf("change %d in %s: %w", i+1, path, errNoMatch)
			}
			logger.WithFields(log.Fields{"file": path, "change": i + 1}).Warn("oldText not found, change skipped")
			continue
		}

		updated := strings.Replace(file.Content, change.OldText, change.NewText, 1)
		message := fmt.Sprintf("autoheal: %s (%d/%d)", truncate(d.RootCause, 60), i+1, len(d.Fix.Changes))
		if err := p.repo.PutFile(ctx, path, updated, file.SHA, branch, message); err != nil {
			return fmt.Errorf("change %d: %w", i+1, err)
		}
	}
	return nil
}

func (p *Publisher) branchName() string {
	id := strings.ReplaceAll(p.cfg.NewID(), "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("autoheal/fix-%s-%d", id, p.cfg.Now().Unix())
}

func failed(entry *log.Entry, step models.PublishStep, err error, record *models.PullRequestRecord) models.PublishResult {
	entry.WithFields(log.Fields{"step": step, "error": err}).Warn("fix publishing failed")
	result := models.PublishResult{
		Reason:      err.Error(),
		FailedStep:  step,
		PullRequest: record,
	}
	if record != nil {
		result.PRURL = record.URL
	}
	return result
}

func pullRequestTitle(d models.Diagnosis) string {
	return "autoheal: " + truncate(strings.TrimSpace(d.RootCause), 100)
}

func pullRequestBody(d models.Diagnosis) string {
	var sb strings.Builder
	sb.WriteString("## Automated remediation\n\n")
	sb.WriteString(fmt.Sprintf("**Root cause:** %s\n\n", d.RootCause))
	sb.WriteString(fmt.Sprintf("**Severity:** %s\n\n", d.Severity))
	if d.Explanation != "" {
		sb.WriteString(d.Explanation + "\n\n")
	}
	if len(d.AffectedFiles) > 0 {
		sb.WriteString("**Affected files:**\n")
		for _, f := range d.AffectedFiles {
			sb.WriteString(fmt.Sprintf("- `%s`\n", f))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("_Generated from an AI diagnosis. Review before merging._\n")
	return sb.String()
}

// truncate keeps the first maxLen runes of s
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
