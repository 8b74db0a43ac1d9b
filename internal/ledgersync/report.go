package ledgersync

import (
	"time"

	"github.com/google/uuid"
)

// Stage names, in pipeline order.
const (
	StageContacts  = "contacts"
	StageEntries   = "entries"
	StagePayments  = "payments"
	StageCredits   = "credits"
	StageHistories = "histories"
)

// RecordFailure identifies one record that could not be mirrored.
type RecordFailure struct {
	ExternalRef string `json:"externalRef"`
	Reason      string `json:"reason"`
}

// StageReport folds per-record outcomes for one pipeline stage.
type StageReport struct {
	Stage    string          `json:"stage"`
	Created  int             `json:"created"`
	Updated  int             `json:"updated"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Failures []RecordFailure `json:"failures,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func (s *StageReport) created() { s.Created++ }
func (s *StageReport) updated() { s.Updated++ }

func (s *StageReport) skipped(externalRef, reason string) {
	s.Skipped++
	s.Failures = append(s.Failures, RecordFailure{ExternalRef: externalRef, Reason: reason})
}

func (s *StageReport) failed(externalRef, reason string) {
	s.Failed++
	s.Failures = append(s.Failures, RecordFailure{ExternalRef: externalRef, Reason: reason})
}

// Processed is the number of records that landed in the mirror.
func (s *StageReport) Processed() int {
	return s.Created + s.Updated
}

// Report is the structured result of one sync run.
type Report struct {
	RunID      uuid.UUID     `json:"runId"`
	UserID     string        `json:"userId"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Stages     []StageReport `json:"stages"`
}

// Wrote reports whether any stage landed records in the mirror.
func (r *Report) Wrote() bool {
	for _, stage := range r.Stages {
		if stage.Processed() > 0 {
			return true
		}
	}
	return false
}

// Failed reports whether any stage aborted or dropped records.
func (r *Report) Failed() bool {
	for _, stage := range r.Stages {
		if stage.Error != "" || stage.Failed > 0 {
			return true
		}
	}
	return false
}
