package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"autoheal/models"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "memory")

// ErrRecordNotFound is returned by Get for an unknown run id
var ErrRecordNotFound = errors.New("remediation record not found")

// maxRecords bounds the persisted history; the oldest records go first
const maxRecords = 500

// Store keeps the history of remediation runs
type Store struct {
	records  []models.RemediationRecord
	mu       sync.RWMutex
	filePath string
}

// StoredData represents the data structure saved to disk
type StoredData struct {
	Records     []models.RemediationRecord `json:"records"`
	LastUpdated time.Time                  `json:"last_updated"`
}

// Stats summarises the stored runs
type Stats struct {
	Total     int                              `json:"total"`
	Diagnosed int                              `json:"diagnosed"`
	PRsOpened int                              `json:"prs_opened"`
	Merged    int                              `json:"merged"`
	Failed    int                              `json:"failed"`
	ByStatus  map[models.RemediationStatus]int `json:"by_status"`
}

// NewStore creates a store persisted at filePath. An empty path keeps
// records in memory only.
func NewStore(filePath string) *Store {
	store := &Store{
		records:  make([]models.RemediationRecord, 0),
		filePath: filePath,
	}
	if filePath == "" {
		return store
	}

	if err := store.Load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithField("file", filePath).Info("no remediation history found, starting fresh")
		} else {
			logger.WithFields(log.Fields{"file": filePath, "error": err}).Warn("failed to load remediation history, starting fresh")
		}
	} else {
		logger.WithField("records", len(store.records)).Info("loaded remediation history")
	}

	return store
}

// Record appends a run and persists the store
func (s *Store) Record(rec models.RemediationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	if over := len(s.records) - maxRecords; over > 0 {
		s.records = append(s.records[:0:0], s.records[over:]...)
	}

	return s.save()
}

// Get returns the record with the given id
func (s *Store) Get(id string) (models.RemediationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].ID == id {
			return s.records[i], nil
		}
	}
	return models.RemediationRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (s *Store) Recent(limit int) []models.RemediationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.RemediationRecord, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.records[i])
	}
	return out
}

// GetStats returns statistics about stored runs
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Total:    len(s.records),
		ByStatus: make(map[models.RemediationStatus]int),
	}
	for _, rec := range s.records {
		stats.ByStatus[rec.Status]++
		if rec.Diagnosis != nil {
			stats.Diagnosed++
		}
		if rec.PullRequest != nil {
			stats.PRsOpened++
			if rec.PullRequest.Merged {
				stats.Merged++
			}
		}
		if rec.Status.Failed() {
			stats.Failed++
		}
	}
	return stats
}

// save persists the store to disk. Callers hold the write lock.
func (s *Store) save() error {
	if s.filePath == "" {
		return nil
	}

	data := StoredData{
		Records:     s.records,
		LastUpdated: time.Now(),
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".autoheal-memory-*")
	if err != nil {
		return fmt.Errorf("failed to create store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode store data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// Load reads the store from disk
func (s *Store) Load() error {
	file, err := os.Open(s.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	var data StoredData
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode store data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = data.Records
	if s.records == nil {
		s.records = make([]models.RemediationRecord, 0)
	}
	return nil
}

// Clear removes all records
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make([]models.RemediationRecord, 0)
	return s.save()
}

// PrintSummary logs a summary of stored runs
func (s *Store) PrintSummary() {
	stats := s.GetStats()

	logger.Info(strings.Repeat("=", 60))
	logger.Info("Remediation summary")
	logger.Infof("Runs handled:       %d", stats.Total)
	logger.Infof("Diagnosed:          %d", stats.Diagnosed)
	logger.Infof("Pull requests:      %d", stats.PRsOpened)
	logger.Infof("Merged:             %d", stats.Merged)
	logger.Infof("Failed:             %d", stats.Failed)

	for _, rec := range s.Recent(5) {
		line := fmt.Sprintf("  %s %s %s", rec.StartedAt.Format(time.RFC3339), rec.Event.Kind, rec.Status)
		if rec.PullRequest != nil {
			line += " " + rec.PullRequest.URL
		}
		logger.Info(line)
	}
	logger.Info(strings.Repeat("=", 60))
}
