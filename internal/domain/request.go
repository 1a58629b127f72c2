// Package domain contains core domain types for the escalation server.
package domain

import (
	"time"
)

// RequestStatus is the lifecycle state of a help request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusResolved RequestStatus = "resolved"
	StatusTimeout  RequestStatus = "timeout"
)

// ValidStatus reports whether s is a known request status.
func ValidStatus(s RequestStatus) bool {
	switch s {
	case StatusPending, StatusResolved, StatusTimeout:
		return true
	}
	return false
}

// HelpRequest is a question escalated by the voice agent to a human
// supervisor. Status transitions only pending->resolved or
// pending->timeout; terminal states never change again.
type HelpRequest struct {
	ID         string        `json:"id"`
	Question   string        `json:"question"`
	CallerInfo string        `json:"caller_info,omitempty"`
	Status     RequestStatus `json:"status"`
	Answer     string        `json:"answer,omitempty"`
	AnsweredBy string        `json:"answered_by,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	TimeoutAt  time.Time     `json:"timeout_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// IsPending reports whether the request still awaits a supervisor.
func (r *HelpRequest) IsPending() bool {
	return r.Status == StatusPending
}

// ExpiredAt reports whether the request's timeout window has elapsed at t.
func (r *HelpRequest) ExpiredAt(t time.Time) bool {
	return r.Status == StatusPending && !r.TimeoutAt.After(t)
}

// RequestSummary holds aggregate request counts by status.
type RequestSummary struct {
	Pending  int `json:"pending"`
	Resolved int `json:"resolved"`
	Timeout  int `json:"timeout"`
	Total    int `json:"total"`
}
