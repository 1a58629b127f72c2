// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/frontdesk/hitl/internal/domain"
)

// Repository defines the interface for persisting help requests and
// knowledge base entries. All state transitions on help requests go
// through the compare-and-set methods; plain writes never touch status.
type Repository interface {
	// CreateHelpRequest persists a new pending help request.
	CreateHelpRequest(ctx context.Context, req *domain.HelpRequest) error

	// GetHelpRequest retrieves a help request by ID.
	// Returns (nil, nil) if no such request exists.
	GetHelpRequest(ctx context.Context, id string) (*domain.HelpRequest, error)

	// ListHelpRequests returns requests newest-first, optionally filtered
	// by status. An empty status returns all requests.
	ListHelpRequests(ctx context.Context, status domain.RequestStatus) ([]*domain.HelpRequest, error)

	// CountHelpRequests returns aggregate counts by status.
	CountHelpRequests(ctx context.Context) (*domain.RequestSummary, error)

	// ResolveHelpRequest transitions a request to resolved iff its status
	// is still pending (compare-and-set on status). Returns true if this
	// call performed the transition, false if the request was already in
	// a terminal state.
	ResolveHelpRequest(ctx context.Context, id, answer, answeredBy string, resolvedAt time.Time) (bool, error)

	// ExpireHelpRequest transitions a request to timeout iff its status
	// is still pending. Returns true if this call performed the
	// transition.
	ExpireHelpRequest(ctx context.Context, id string) (bool, error)

	// ListExpiredHelpRequests returns pending requests whose timeout_at
	// is at or before now.
	ListExpiredHelpRequests(ctx context.Context, now time.Time) ([]*domain.HelpRequest, error)

	// GetKBEntryByQuestion retrieves a knowledge base entry by normalized
	// question. Returns (nil, nil) on a miss.
	GetKBEntryByQuestion(ctx context.Context, normalized string) (*domain.KnowledgeBaseEntry, error)

	// UpsertKBEntry inserts or updates an entry keyed by normalized
	// question. On update the answer and updated_at are refreshed,
	// use_count is preserved, and an existing source=initial is kept.
	UpsertKBEntry(ctx context.Context, entry *domain.KnowledgeBaseEntry) (*domain.KnowledgeBaseEntry, error)

	// IncrementKBUseCount atomically adds 1 to an entry's use_count.
	IncrementKBUseCount(ctx context.Context, id string) error

	// ListKBEntries returns all entries, most recently updated first.
	ListKBEntries(ctx context.Context) ([]*domain.KnowledgeBaseEntry, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
