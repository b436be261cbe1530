// Package request extracts a structured infrastructure request from a
// classified message. Parsing is keyword driven by design; accuracy is
// bounded by phrase coverage.
package request

import "strings"

// InfraRequest is the structured payload sent to the infrastructure API.
type InfraRequest struct {
	Title          string
	Description    string
	RequestorEmail string
	Priority       string
	Environment    string
	Metadata       map[string]any
}

var priorityTerms = []struct {
	priority string
	terms    []string
}{
	{"high", []string{"urgent", "asap", "high priority", "blocking"}},
	{"low", []string{"low priority", "when you can", "not urgent"}},
}

var environmentTerms = []struct {
	environment string
	terms       []string
}{
	{"production", []string{"prod", "production", "live"}},
	{"staging", []string{"staging", "pre-prod", "preprod"}},
}

// Parse builds an InfraRequest from an INFRA_REQUEST-classified
// message. Title and description are carried verbatim; priority and
// environment are derived by ordered substring buckets (high before
// low, production before staging), first match wins.
func Parse(subject, body, sender string) *InfraRequest {
	req := &InfraRequest{
		Title:          subject,
		Description:    body,
		RequestorEmail: sender,
		Priority:       "normal",
		Environment:    "development",
		Metadata: map[string]any{
			"source":           "email",
			"original_subject": subject,
		},
	}

	subjectLower := strings.ToLower(subject)
	bodyLower := strings.ToLower(body)

	for _, bucket := range priorityTerms {
		if containsAny(subjectLower, bodyLower, bucket.terms) {
			req.Priority = bucket.priority
			break
		}
	}

	for _, bucket := range environmentTerms {
		if containsAny(subjectLower, bodyLower, bucket.terms) {
			req.Environment = bucket.environment
			break
		}
	}

	return req
}

func containsAny(subject, body string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(subject, term) || strings.Contains(body, term) {
			return true
		}
	}
	return false
}
