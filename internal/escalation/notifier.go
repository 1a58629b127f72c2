package escalation

import (
	"log/slog"

	"github.com/frontdesk/hitl/internal/domain"
)

// CallerNotifier is invoked after a request reaches a terminal state so
// the original caller can be followed up with. Real deployments would
// plug in SMS or a telephony webhook here; the default only logs.
type CallerNotifier func(req *domain.HelpRequest)

// LogCallerNotifier is the default follow-up: a structured log line
// standing in for the outbound customer message.
func LogCallerNotifier(req *domain.HelpRequest) {
	switch req.Status {
	case domain.StatusResolved:
		slog.Info("Customer follow-up: question answered",
			"caller", req.CallerInfo,
			"question", req.Question,
			"answer", req.Answer,
			"answered_by", req.AnsweredBy)
	case domain.StatusTimeout:
		slog.Info("Customer follow-up: question still unanswered",
			"caller", req.CallerInfo,
			"question", req.Question)
	}
}
