// Package knowledge manages the shared question/answer knowledge base:
// exact-match lookup over normalized questions, upsert-on-answer, and
// startup seeding.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/frontdesk/hitl/internal/domain"
	"github.com/frontdesk/hitl/internal/store"
	"github.com/google/uuid"
)

// Manager owns knowledge base reads and writes. All KB mutations in the
// system go through it.
type Manager struct {
	repo store.Repository
}

// NewManager creates a knowledge base manager.
func NewManager(repo store.Repository) *Manager {
	return &Manager{repo: repo}
}

// Lookup matches a question exactly against stored normalized questions.
// On a hit it increments the entry's use_count as a side effect: a hit
// means the agent answered without escalating, and that usage is
// recorded. Returns (nil, nil) on a miss.
func (m *Manager) Lookup(ctx context.Context, question string) (*domain.KnowledgeBaseEntry, error) {
	normalized := domain.NormalizeQuestion(question)
	if normalized == "" {
		return nil, fmt.Errorf("question cannot be empty: %w", errdefs.ErrInvalidArgument)
	}

	entry, err := m.repo.GetKBEntryByQuestion(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("lookup knowledge base: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	if err := m.repo.IncrementKBUseCount(ctx, entry.ID); err != nil {
		// The answer is still good; losing one count beats failing the call.
		slog.Warn("Failed to increment knowledge base use count",
			"entry_id", entry.ID, "error", err)
	} else {
		entry.UseCount++
	}

	return entry, nil
}

// Upsert inserts or updates the entry for a question. On a normalized
// match the answer text and updated_at are refreshed while use_count is
// kept; an existing source=initial is preserved rather than being
// demoted to learned.
func (m *Manager) Upsert(ctx context.Context, question, answer string, source domain.KnowledgeSource) (*domain.KnowledgeBaseEntry, error) {
	if domain.NormalizeQuestion(question) == "" {
		return nil, fmt.Errorf("question cannot be empty: %w", errdefs.ErrInvalidArgument)
	}
	if answer == "" {
		return nil, fmt.Errorf("answer cannot be empty: %w", errdefs.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	entry := &domain.KnowledgeBaseEntry{
		ID:        uuid.NewString(),
		Question:  question,
		Answer:    answer,
		Source:    source,
		UseCount:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	stored, err := m.repo.UpsertKBEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("upsert knowledge base entry: %w", err)
	}

	slog.Info("Knowledge base updated",
		"entry_id", stored.ID, "source", stored.Source, "use_count", stored.UseCount)
	return stored, nil
}

// List returns all entries, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]*domain.KnowledgeBaseEntry, error) {
	entries, err := m.repo.ListKBEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list knowledge base: %w", err)
	}
	return entries, nil
}

// SeedEntry is one question/answer pair loaded at startup.
type SeedEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Seed bulk-inserts initial-sourced entries. Entries whose normalized
// question already exists are left untouched, so seeding is idempotent
// across restarts.
func (m *Manager) Seed(ctx context.Context, entries []SeedEntry) error {
	seeded := 0
	for _, e := range entries {
		normalized := domain.NormalizeQuestion(e.Question)
		if normalized == "" || e.Answer == "" {
			slog.Warn("Skipping invalid seed entry", "question", e.Question)
			continue
		}

		existing, err := m.repo.GetKBEntryByQuestion(ctx, normalized)
		if err != nil {
			return fmt.Errorf("check seed entry: %w", err)
		}
		if existing != nil {
			continue
		}

		if _, err := m.Upsert(ctx, e.Question, e.Answer, domain.SourceInitial); err != nil {
			return fmt.Errorf("seed entry %q: %w", e.Question, err)
		}
		seeded++
	}

	if seeded > 0 {
		slog.Info("Knowledge base seeded", "entries", seeded)
	}
	return nil
}
