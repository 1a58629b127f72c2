// Package escalation owns the help request lifecycle: creation by the
// voice agent, resolution by supervisors, and expiry by the timeout
// sweeper. It is the only component allowed to transition request state.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/frontdesk/hitl/internal/domain"
	"github.com/frontdesk/hitl/internal/knowledge"
	"github.com/frontdesk/hitl/internal/notify"
	"github.com/frontdesk/hitl/internal/store"
	"github.com/google/uuid"
)

// Service coordinates the request state machine, the knowledge base
// learning loop, and event broadcasts. State transitions serialize
// through the store's compare-and-set, so racing resolve/expire calls
// on the same request yield exactly one winner.
type Service struct {
	repo     store.Repository
	kb       *knowledge.Manager
	hub      *notify.Hub
	window   time.Duration
	notifier CallerNotifier
}

// NewService creates the lifecycle service. window is the time a request
// stays pending before the sweeper may expire it.
func NewService(repo store.Repository, kb *knowledge.Manager, hub *notify.Hub, window time.Duration) *Service {
	return &Service{
		repo:     repo,
		kb:       kb,
		hub:      hub,
		window:   window,
		notifier: LogCallerNotifier,
	}
}

// SetCallerNotifier replaces the caller follow-up callback. Passing nil
// disables follow-ups entirely.
func (s *Service) SetCallerNotifier(n CallerNotifier) {
	s.notifier = n
}

// Result is the gateway outcome: either a direct knowledge base answer
// or an acknowledgment that a pending request was created.
type Result struct {
	Answer    string `json:"answer,omitempty"`
	Source    string `json:"source,omitempty"`
	Escalated bool   `json:"escalated,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Escalate is the single entry point for the voice agent: answer from
// the knowledge base when possible, otherwise create a pending request.
// A KB hit never creates a request; a miss creates exactly one.
func (s *Service) Escalate(ctx context.Context, question, callerInfo, sessionID string) (*Result, error) {
	entry, err := s.kb.Lookup(ctx, question)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		slog.Info("Escalation answered from knowledge base",
			"entry_id", entry.ID, "use_count", entry.UseCount)
		return &Result{Answer: entry.Answer, Source: "kb"}, nil
	}

	req, err := s.Create(ctx, question, callerInfo, sessionID)
	if err != nil {
		return nil, err
	}
	return &Result{Escalated: true, RequestID: req.ID}, nil
}

// Create persists a new pending request and broadcasts new_request.
func (s *Service) Create(ctx context.Context, question, callerInfo, sessionID string) (*domain.HelpRequest, error) {
	if domain.NormalizeQuestion(question) == "" {
		return nil, fmt.Errorf("question cannot be empty: %w", errdefs.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	req := &domain.HelpRequest{
		ID:         uuid.NewString(),
		Question:   question,
		CallerInfo: callerInfo,
		Status:     domain.StatusPending,
		SessionID:  sessionID,
		CreatedAt:  now,
		TimeoutAt:  now.Add(s.window),
	}

	if err := s.repo.CreateHelpRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create help request: %w", err)
	}

	slog.Info("Help request created",
		"request_id", req.ID, "caller", req.CallerInfo, "session_id", req.SessionID)
	s.hub.Broadcast(notify.NewEvent(notify.EventNewRequest, req))
	return req, nil
}

// Resolve transitions a pending request to resolved, learns the answer
// into the knowledge base, and broadcasts request_resolved followed by
// knowledge_base_updated. Resolving a timed-out request is rejected,
// not resurrected.
func (s *Service) Resolve(ctx context.Context, id, answer, answeredBy string) (*domain.HelpRequest, error) {
	if answer == "" {
		return nil, fmt.Errorf("answer cannot be empty: %w", errdefs.ErrInvalidArgument)
	}
	if answeredBy == "" {
		return nil, fmt.Errorf("supervisor name cannot be empty: %w", errdefs.ErrInvalidArgument)
	}

	won, err := s.repo.ResolveHelpRequest(ctx, id, answer, answeredBy, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("resolve help request: %w", err)
	}
	if !won {
		existing, err := s.repo.GetHelpRequest(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve help request: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("help request %s: %w", id, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("help request %s already %s: %w", id, existing.Status, errdefs.ErrConflict)
	}

	req, err := s.repo.GetHelpRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload resolved request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("help request %s: %w", id, errdefs.ErrNotFound)
	}

	slog.Info("Help request resolved",
		"request_id", req.ID, "answered_by", req.AnsweredBy)

	entry, err := s.kb.Upsert(ctx, req.Question, req.Answer, domain.SourceLearned)
	if err != nil {
		// The resolution is committed; a failed KB write must not undo it.
		slog.Error("Failed to learn resolved answer into knowledge base",
			"request_id", req.ID, "error", err)
	}

	s.hub.Broadcast(notify.NewEvent(notify.EventRequestResolved, req))
	if entry != nil {
		s.hub.Broadcast(notify.NewEvent(notify.EventKBUpdated, entry))
	}

	if s.notifier != nil {
		s.notifier(req)
	}
	return req, nil
}

// Expire transitions a pending request to timeout. Used only by the
// sweeper. Returns (nil, nil) without broadcasting when the request is
// no longer pending: a request answered in the same instant it would
// have expired stays resolved.
func (s *Service) Expire(ctx context.Context, id string) (*domain.HelpRequest, error) {
	won, err := s.repo.ExpireHelpRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("expire help request: %w", err)
	}
	if !won {
		return nil, nil
	}

	req, err := s.repo.GetHelpRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload expired request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("help request %s: %w", id, errdefs.ErrNotFound)
	}

	slog.Info("Help request timed out", "request_id", req.ID, "caller", req.CallerInfo)
	s.hub.Broadcast(notify.NewEvent(notify.EventRequestTimeout, req))

	if s.notifier != nil {
		s.notifier(req)
	}
	return req, nil
}

// SweepExpired runs one sweep tick: expire every pending request whose
// timeout has elapsed, tolerating requests finalized mid-sweep. A store
// failure abandons the tick; the next tick rescans from scratch.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.ListExpiredHelpRequests(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired requests: %w", err)
	}

	swept := 0
	for _, req := range expired {
		timedOut, err := s.Expire(ctx, req.ID)
		if err != nil {
			slog.Error("Failed to expire request", "request_id", req.ID, "error", err)
			continue
		}
		if timedOut != nil {
			swept++
		}
	}
	return swept, nil
}

// Get retrieves one request by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.HelpRequest, error) {
	req, err := s.repo.GetHelpRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get help request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("help request %s: %w", id, errdefs.ErrNotFound)
	}
	return req, nil
}

// List returns requests newest-first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status domain.RequestStatus) ([]*domain.HelpRequest, error) {
	if status != "" && !domain.ValidStatus(status) {
		return nil, fmt.Errorf("unknown status %q: %w", status, errdefs.ErrInvalidArgument)
	}
	requests, err := s.repo.ListHelpRequests(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list help requests: %w", err)
	}
	return requests, nil
}

// Summary returns aggregate request counts by status.
func (s *Service) Summary(ctx context.Context) (*domain.RequestSummary, error) {
	summary, err := s.repo.CountHelpRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("count help requests: %w", err)
	}
	return summary, nil
}
