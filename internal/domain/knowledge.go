package domain

import (
	"strings"
	"time"
)

// KnowledgeSource indicates how a knowledge base entry was created.
type KnowledgeSource string

const (
	// SourceInitial entries are seeded at startup and keep their source
	// even when a later resolution updates the answer text.
	SourceInitial KnowledgeSource = "initial"
	// SourceLearned entries come from resolved escalations.
	SourceLearned KnowledgeSource = "learned"
	// SourceManual entries are created by supervisors through the API.
	SourceManual KnowledgeSource = "manual"
)

// KnowledgeBaseEntry is a question/answer pair the agent can serve
// without escalating. Matching is exact on the normalized question.
type KnowledgeBaseEntry struct {
	ID        string          `json:"id"`
	Question  string          `json:"question"`
	Answer    string          `json:"answer"`
	Source    KnowledgeSource `json:"source"`
	UseCount  int             `json:"use_count"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NormalizeQuestion produces the exact-match lookup key for a question:
// case-folded, trimmed, inner whitespace collapsed to single spaces.
func NormalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
