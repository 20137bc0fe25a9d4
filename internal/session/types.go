// Package session owns the durable record of one orchestration run: the
// on-disk store, the single "current" session, and the persistence policy
// that keeps the two in step.
package session

import (
	"errors"
	"time"
)

// Status enumerates the lifecycle of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status ends a session.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ResultStatus enumerates the outcome of a single agent step.
type ResultStatus string

const (
	ResultPending ResultStatus = "pending"
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

var (
	// ErrNoActiveSession is returned by mutations when no session is current.
	ErrNoActiveSession = errors.New("session: no active session")
	// ErrSessionNotFound is returned when no session file exists for an id.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrInvalidSessionID is returned for ids outside the [A-Za-z0-9-] alphabet.
	ErrInvalidSessionID = errors.New("session: invalid session id")
	// ErrInvalidSession is returned when a session document fails validation.
	ErrInvalidSession = errors.New("session: invalid session document")
)

// AgentResult records one issued step. Results are append-only.
type AgentResult struct {
	Agent      string       `json:"agent"`
	Status     ResultStatus `json:"status"`
	Output     string       `json:"output"`
	Timestamp  time.Time    `json:"timestamp"`
	DurationMs int64        `json:"duration,omitempty"`
}

// Session is the persisted snapshot of one orchestration run.
type Session struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Goal         string         `json:"goal"`
	Status       Status         `json:"status"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      *time.Time     `json:"endTime,omitempty"`
	Agents       []AgentResult  `json:"agents"`
	Context      map[string]any `json:"context"`
	RetryCount   int            `json:"retryCount"`
	MaxRetries   int            `json:"maxRetries"`
	WorkflowType string         `json:"workflowType,omitempty"`
}

// Clone returns a copy that shares no slices or maps with s. Context values
// themselves are copied shallowly.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.EndTime != nil {
		end := *s.EndTime
		clone.EndTime = &end
	}
	clone.Agents = make([]AgentResult, len(s.Agents))
	copy(clone.Agents, s.Agents)
	clone.Context = make(map[string]any, len(s.Context))
	for key, value := range s.Context {
		clone.Context[key] = value
	}
	return &clone
}

// Counts tallies agent results by status.
func (s *Session) Counts() map[ResultStatus]int {
	counts := map[ResultStatus]int{}
	if s == nil {
		return counts
	}
	for _, result := range s.Agents {
		counts[result.Status]++
	}
	return counts
}

// Failures returns how many failure results were recorded for agent at or
// after index from in the agent log.
func (s *Session) Failures(agent string, from int) int {
	if s == nil {
		return 0
	}
	if from < 0 {
		from = 0
	}
	total := 0
	for i := from; i < len(s.Agents); i++ {
		if s.Agents[i].Agent == agent && s.Agents[i].Status == ResultFailure {
			total++
		}
	}
	return total
}

// Elapsed measures the session from its start to its end, or to now while active.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s == nil || s.StartTime.IsZero() {
		return 0
	}
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}
