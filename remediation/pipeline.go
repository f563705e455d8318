// Package remediation turns failure events into diagnoses and, when policy
// allows, into pull requests carrying the fix.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"autoheal/ai"
	"autoheal/models"
	"autoheal/notify"
	"autoheal/state"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "remediation")

// ErrRemediationInFlight is returned when a run is already in progress
var ErrRemediationInFlight = errors.New("remediation already in flight")

// Analyzer produces a diagnosis for a failure event
type Analyzer interface {
	Analyze(ctx context.Context, event models.FailureEvent) ai.Analysis
}

// FixPublisher turns a diagnosis into a pull request
type FixPublisher interface {
	Publish(ctx context.Context, d models.Diagnosis) models.PublishResult
}

// Announcer delivers owner notifications without blocking
type Announcer interface {
	Notify(recipientID, text string, format notify.Format)
}

// Recorder keeps finished runs
type Recorder interface {
	Record(rec models.RemediationRecord) error
}

// Deps wires a Pipeline
type Deps struct {
	Analyzer  Analyzer
	Publisher FixPublisher // nil when no repository is configured
	State     *state.State
	Announcer Announcer
	Recorder  Recorder
	Now       func() time.Time
}

// Pipeline runs detection → diagnosis → publication for one event at a time
type Pipeline struct {
	analyzer  Analyzer
	publisher FixPublisher
	state     *state.State
	announcer Announcer
	recorder  Recorder
	now       func() time.Time

	inFlight atomic.Bool
}

// NewPipeline creates a remediation pipeline
func NewPipeline(d Deps) *Pipeline {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Pipeline{
		analyzer:  d.Analyzer,
		publisher: d.Publisher,
		state:     d.State,
		announcer: d.Announcer,
		recorder:  d.Recorder,
		now:       d.Now,
	}
}

// InFlight reports whether a run is currently executing
func (p *Pipeline) InFlight() bool {
	return p.inFlight.Load()
}

// HandleFailure runs Handle for the monitor, which has no use for the outcome
func (p *Pipeline) HandleFailure(ctx context.Context, event models.FailureEvent) {
	if _, err := p.Handle(ctx, event); err != nil {
		logger.WithFields(log.Fields{"event": event.ID, "error": err}).Warn("remediation not run")
	}
}

// Handle runs one remediation for event. The event always lands in the
// error history; a concurrent call stops there and returns
// ErrRemediationInFlight.
func (p *Pipeline) Handle(ctx context.Context, event models.FailureEvent) (rec models.RemediationRecord, err error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.state.RecordFailure(event)
		return models.RemediationRecord{}, ErrRemediationInFlight
	}
	defer p.inFlight.Store(false)

	start := p.now()
	owner := p.state.OwnerChannelID()
	entry := logger.WithFields(log.Fields{"event": event.ID, "kind": event.Kind})
	rec = models.RemediationRecord{ID: event.ID, Event: event, StartedAt: start}

	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("remediation run panicked")
			p.state.SetDeploymentInProgress(false)
			rec.Status = models.StatusAborted
			rec.Reason = fmt.Sprint(r)
			err = fmt.Errorf("remediation aborted: %v", r)
			p.announce(owner, "❌ *Remediation aborted:* "+notify.EscapeMarkdown(fmt.Sprint(r)))
		}
		rec.Duration = p.now().Sub(start)
		if p.recorder != nil {
			if rerr := p.recorder.Record(rec); rerr != nil {
				entry.WithField("error", rerr).Warn("failed to record remediation")
			}
		}
	}()

	entry.Info("remediation started")
	p.announce(owner, startMessage(event))
	p.state.RecordFailure(event)

	analysis := p.analyzer.Analyze(ctx, event)
	rec.Provider = analysis.Provider
	if analysis.Diagnosis == nil {
		rec.Status = models.StatusUndiagnosed
		rec.Reason = analysis.Reason
		entry.WithField("reason", analysis.Reason).Warn("no diagnosis")
		p.announce(owner, "⚠️ *Could not diagnose the failure.* Manual investigation needed.")
		return rec, nil
	}

	d := *analysis.Diagnosis
	rec.Diagnosis = &d
	entry = entry.WithFields(log.Fields{"severity": d.Severity, "auto_fixable": d.AutoFixable, "provider": analysis.Provider})

	var held string
	switch {
	case !p.state.AutoFixEnabled():
		held = "Auto-fix is disabled; the fix is queued for review."
	case !d.AutoFixable:
		held = "Not auto-fixable; manual intervention required."
	case p.publisher == nil:
		held = "No repository configured; the fix is queued for review."
	}
	if held != "" {
		rec.Status = models.StatusQueued
		rec.Reason = held
		p.state.EnqueueFix(d)
		entry.Info("diagnosis queued")
		p.announce(owner, fmt.Sprintf("🧠 *Diagnosis*\n%s\n\n%s", summarize(d), held))
		return rec, nil
	}

	p.state.SetDeploymentInProgress(true)
	result := p.publisher.Publish(ctx, d)
	p.state.SetDeploymentInProgress(false)

	rec.PullRequest = result.PullRequest
	if !result.Success {
		rec.Status = models.StatusPublishFailed
		rec.FailedStep = result.FailedStep
		rec.Reason = result.Reason
		entry.WithFields(log.Fields{"step": result.FailedStep, "reason": result.Reason}).Warn("fix publishing failed")
		p.announce(owner, failureMessage(d, result))
		return rec, nil
	}

	if result.AutoMerged {
		rec.Status = models.StatusMerged
	} else {
		rec.Status = models.StatusAwaitingReview
	}
	entry.WithFields(log.Fields{"pr": result.PRURL, "merged": result.AutoMerged}).Info("fix published")
	p.announce(owner, successMessage(d, result))
	return rec, nil
}

func (p *Pipeline) announce(owner, text string) {
	if p.announcer != nil {
		p.announcer.Notify(owner, text, notify.FormatMarkdown)
	}
}
