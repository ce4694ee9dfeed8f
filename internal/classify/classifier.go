// Package classify maps free-text approval replies to a decision.
package classify

import (
	"strings"

	"github.com/partsflow/approval-engine/internal/domain"
)

// Input is one reply to classify. ApprovedHint is an externally supplied
// signal (e.g. a button click recorded by the mail watcher) consulted only
// when the text itself is inconclusive.
type Input struct {
	Body         string
	ApprovedHint bool
}

// Classifier decides what a reply means. Implementations must be pure: the
// approval transaction calls them mid-flight and retries rely on identical
// answers for identical input.
type Classifier interface {
	Classify(in Input) domain.ApprovalStatus
}

// WithStickyApproval applies the sticky-approval rule: once a record is
// approved, an ambiguous follow-up cannot silently downgrade it. An explicit
// rejection still can.
func WithStickyApproval(current, decided domain.ApprovalStatus) domain.ApprovalStatus {
	if current == domain.ApprovalApproved && decided != domain.ApprovalRejected {
		return domain.ApprovalApproved
	}
	return decided
}

var defaultApprovalKeywords = []string{
	"approve",
	"approved",
	"accept",
	"accepted",
	"confirm",
	"confirmed",
	"looks good",
	"lgtm",
	"go ahead",
	"proceed",
}

var defaultHoldKeywords = []string{
	"on hold",
	"hold off",
	"revise",
	"revision",
	"needs fixing",
	"needs work",
	"not yet",
	"clarify",
	"clarification",
	"please change",
}

// KeywordClassifier is the default substring-matching classifier. Precedence,
// first match wins: first-line approval, first-line hold, full-body approval,
// full-body hold, the external hint, then rejected. The first line is checked
// separately because senders usually open with their decision; that keeps a
// hold keyword buried in a long reply from flipping an opening approval.
type KeywordClassifier struct {
	approvalKeywords []string
	holdKeywords     []string
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		approvalKeywords: defaultApprovalKeywords,
		holdKeywords:     defaultHoldKeywords,
	}
}

func (c *KeywordClassifier) Classify(in Input) domain.ApprovalStatus {
	body := strings.ToLower(in.Body)
	firstLine := firstNonEmptyLine(body)

	if containsAny(firstLine, c.approvalKeywords) {
		return domain.ApprovalApproved
	}
	if containsAny(firstLine, c.holdKeywords) {
		return domain.ApprovalOnHold
	}
	if containsAny(body, c.approvalKeywords) {
		return domain.ApprovalApproved
	}
	if containsAny(body, c.holdKeywords) {
		return domain.ApprovalOnHold
	}
	if in.ApprovedHint {
		return domain.ApprovalApproved
	}
	return domain.ApprovalRejected
}

func firstNonEmptyLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func containsAny(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
