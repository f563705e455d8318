package models

import "time"

// RemediationStatus is where a remediation run ended
type RemediationStatus string

const (
	StatusUndiagnosed    RemediationStatus = "undiagnosed"
	StatusQueued         RemediationStatus = "queued"
	StatusAwaitingReview RemediationStatus = "awaiting_review"
	StatusMerged         RemediationStatus = "merged"
	StatusPublishFailed  RemediationStatus = "publish_failed"
	StatusAborted        RemediationStatus = "aborted"
)

// Failed reports whether the run ended in an error state
func (s RemediationStatus) Failed() bool {
	return s == StatusPublishFailed || s == StatusAborted
}

// RemediationRecord describes one completed remediation run
type RemediationRecord struct {
	ID          string             `json:"id"`
	Event       FailureEvent       `json:"event"`
	Status      RemediationStatus  `json:"status"`
	Provider    string             `json:"provider,omitempty"`
	Diagnosis   *Diagnosis         `json:"diagnosis,omitempty"`
	PullRequest *PullRequestRecord `json:"pull_request,omitempty"`
	FailedStep  PublishStep        `json:"failed_step,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	Duration    time.Duration      `json:"duration_ns"`
}
