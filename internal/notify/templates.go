package notify

import (
	"fmt"
	"strings"
	"text/template"
)

// Template names accepted by Render.
const (
	TemplateInfraRequestConfirmation = "infra_request_confirmation"
	TemplateInfraRequestFailed       = "infra_request_failed"
	TemplateUnsubscribeConfirmation  = "unsubscribe_confirmation"
)

type emailTemplate struct {
	subject string
	body    string
}

var templates = map[string]emailTemplate{
	TemplateInfraRequestConfirmation: {
		subject: "Infrastructure Request Received: {{.title}}",
		body: `Hello,

Your infrastructure request has been accepted and is being processed.

Request Details:
- Request ID: {{.request_id}}
- Title: {{.title}}
- Status: {{.status}}
- Priority: {{.priority}}
- Environment: {{.environment}}
- Created At: {{.created_at}}

Description:
{{.description}}

You will be notified when provisioning completes.

--
mailbridge automation
`,
	},
	TemplateInfraRequestFailed: {
		subject: "Infrastructure Request Failed: {{.title}}",
		body: `Hello,

Your infrastructure request could not be processed:

{{.error}}

Original Request:
Subject: {{.title}}

Please check the request format and try again.

--
mailbridge automation
`,
	},
	TemplateUnsubscribeConfirmation: {
		subject: "Unsubscribe Confirmation",
		body: `Hello,

This confirms that {{.email}} was unsubscribed on {{.unsubscribe_date}}.

You will no longer receive automated mail from this system.

--
mailbridge automation
`,
	},
}

// Render produces the subject and body for a named template. Unknown
// template names are an error, not a silent fallback.
func Render(name string, tctx map[string]any) (subject, body string, err error) {
	tmpl, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown notification template: %s", name)
	}

	subject, err = execute(name+".subject", tmpl.subject, tctx)
	if err != nil {
		return "", "", err
	}
	body, err = execute(name+".body", tmpl.body, tctx)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func execute(name, text string, tctx map[string]any) (string, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var sb strings.Builder
	if err := t.Execute(&sb, tctx); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return sb.String(), nil
}
