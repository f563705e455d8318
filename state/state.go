// Package state holds the process-wide operational record shared by the
// monitor, the remediation pipeline and the status surface.
package state

import (
	"sync"
	"time"

	"autoheal/models"
)

// Options configures a new State
type Options struct {
	AutoFixEnabled    bool
	AutoDeployEnabled bool
	OwnerChannelID    string

	// HistoryCap bounds ErrorHistory; the oldest events are evicted first
	HistoryCap int

	// HistoryMaxAge drops events older than this on every append (0 = keep)
	HistoryMaxAge time.Duration

	// Now overrides the clock used for age-based retention
	Now func() time.Time
}

// State is the mutable operational record.
// All access goes through its methods, which serialize on an RWMutex.
type State struct {
	mu sync.RWMutex

	monitoringActive     bool
	autoFixEnabled       bool
	autoDeployEnabled    bool
	errorHistory         []models.FailureEvent
	fixQueue             []models.Diagnosis
	deploymentInProgress bool
	ownerChannelID       string
	lastCheck            *models.HealthCheckResult

	historyCap    int
	historyMaxAge time.Duration
	now           func() time.Time
}

// Snapshot is a read-only deep copy of State
type Snapshot struct {
	MonitoringActive     bool                      `json:"monitoring_active"`
	AutoFixEnabled       bool                      `json:"auto_fix_enabled"`
	AutoDeployEnabled    bool                      `json:"auto_deploy_enabled"`
	ErrorHistory         []models.FailureEvent     `json:"error_history"`
	FixQueue             []models.Diagnosis        `json:"fix_queue"`
	DeploymentInProgress bool                      `json:"deployment_in_progress"`
	OwnerChannelID       string                    `json:"owner_channel_id"`
	LastCheck            *models.HealthCheckResult `json:"last_check,omitempty"`
}

// New creates the operational state
func New(opts Options) *State {
	if opts.HistoryCap < 1 {
		opts.HistoryCap = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &State{
		autoFixEnabled:    opts.AutoFixEnabled,
		autoDeployEnabled: opts.AutoDeployEnabled,
		ownerChannelID:    opts.OwnerChannelID,
		errorHistory:      make([]models.FailureEvent, 0, opts.HistoryCap),
		fixQueue:          make([]models.Diagnosis, 0),
		historyCap:        opts.HistoryCap,
		historyMaxAge:     opts.HistoryMaxAge,
		now:               opts.Now,
	}
}

// SetMonitoring flips the monitoring flag and reports whether it changed
func (s *State) SetMonitoring(active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.monitoringActive == active {
		return false
	}
	s.monitoringActive = active
	return true
}

// MonitoringActive reports whether scheduled probing is on
func (s *State) MonitoringActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.monitoringActive
}

// AutoFixEnabled reports the auto-fix policy gate
func (s *State) AutoFixEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoFixEnabled
}

// AutoDeployEnabled reports the auto-deploy policy gate
func (s *State) AutoDeployEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoDeployEnabled
}

// OwnerChannelID returns the notification recipient
func (s *State) OwnerChannelID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownerChannelID
}

// RecordFailure appends an event to the error history, evicting the oldest
// events beyond the cap and any older than the retention window.
func (s *State) RecordFailure(event models.FailureEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errorHistory = append(s.errorHistory, event)

	if s.historyMaxAge > 0 {
		cutoff := s.now().Add(-s.historyMaxAge)
		keep := 0
		for keep < len(s.errorHistory) && s.errorHistory[keep].Timestamp.Before(cutoff) {
			keep++
		}
		s.errorHistory = s.errorHistory[keep:]
	}

	if over := len(s.errorHistory) - s.historyCap; over > 0 {
		s.errorHistory = append([]models.FailureEvent(nil), s.errorHistory[over:]...)
	}
}

// EnqueueFix adds a diagnosis awaiting manual action
func (s *State) EnqueueFix(d models.Diagnosis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixQueue = append(s.fixQueue, d)
}

// DrainFixQueue removes and returns every queued diagnosis
func (s *State) DrainFixQueue() []models.Diagnosis {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := s.fixQueue
	s.fixQueue = make([]models.Diagnosis, 0)
	return queued
}

// SetDeploymentInProgress flips the in-flight deployment flag
func (s *State) SetDeploymentInProgress(inProgress bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deploymentInProgress = inProgress
}

// DeploymentInProgress reports whether a fix is being published
func (s *State) DeploymentInProgress() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deploymentInProgress
}

// SetLastCheck stores the latest probe result
func (s *State) SetLastCheck(result models.HealthCheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck = &result
}

// LastCheck returns the latest probe result, if any
func (s *State) LastCheck() (models.HealthCheckResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastCheck == nil {
		return models.HealthCheckResult{}, false
	}
	return *s.lastCheck, true
}

// Snapshot returns a deep copy safe to hand to readers
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		MonitoringActive:     s.monitoringActive,
		AutoFixEnabled:       s.autoFixEnabled,
		AutoDeployEnabled:    s.autoDeployEnabled,
		ErrorHistory:         append([]models.FailureEvent(nil), s.errorHistory...),
		FixQueue:             make([]models.Diagnosis, 0, len(s.fixQueue)),
		DeploymentInProgress: s.deploymentInProgress,
		OwnerChannelID:       s.ownerChannelID,
	}
	for _, d := range s.fixQueue {
		snap.FixQueue = append(snap.FixQueue, copyDiagnosis(d))
	}
	if s.lastCheck != nil {
		last := *s.lastCheck
		snap.LastCheck = &last
	}
	return snap
}

func copyDiagnosis(d models.Diagnosis) models.Diagnosis {
	d.AffectedFiles = append([]string(nil), d.AffectedFiles...)
	if d.Fix != nil {
		fix := *d.Fix
		fix.Changes = append([]models.Change(nil), d.Fix.Changes...)
		d.Fix = &fix
	}
	return d
}
