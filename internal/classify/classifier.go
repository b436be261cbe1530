// Package classify assigns exactly one category to an inbound message.
// Classification is a pure function of (subject, body, sender,
// recipients) and uses ordered case-insensitive substring rules; the
// first matching rule wins.
package classify

import (
	"strings"

	"mailbridge/internal/model"
)

var autoReplyIndicators = []string{
	"auto-reply", "automatic reply", "auto reply", "autoreply",
	"out of office", "ooo", "vacation", "away", "annual leave",
	"automatic response", "auto response", "auto-response",
}

var bounceIndicators = []string{
	"delivery failed", "undeliverable", "returned mail",
}

var infraRequestIndicators = []string{
	"infra request", "infrastructure request",
}

// Classify determines the category of an inbound message. OUTGOING is
// never returned here; it is assigned only by the outbound send path.
// Matching is substring based, not word-boundary aware, so incidental
// occurrences of a phrase do trigger a match.
func Classify(subject, body, sender string, recipients []string) model.EmailCategory {
	subjectLower := strings.ToLower(subject)
	bodyLower := strings.ToLower(body)

	for _, indicator := range autoReplyIndicators {
		if strings.Contains(subjectLower, indicator) || strings.Contains(bodyLower, indicator) {
			return model.CategoryAutoReply
		}
	}

	for _, indicator := range bounceIndicators {
		if strings.Contains(subjectLower, indicator) {
			return model.CategoryBounce
		}
	}

	if strings.Contains(bodyLower, "unsubscribe") || strings.Contains(bodyLower, "opt-out") {
		return model.CategoryUnsubscribe
	}

	for _, indicator := range infraRequestIndicators {
		if strings.Contains(subjectLower, indicator) {
			return model.CategoryInfraRequest
		}
	}

	return model.CategoryStandard
}
