package mailer

import (
	"bytes"
	"fmt"
	"text/template"
)

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

// LinkData is the data passed to link templates.
type LinkData struct {
	Email     string
	Link      string
	ExpiresIn string
}

var templates = map[string]emailTemplate{
	TemplateMagicLink: {
		subject: template.Must(template.New("magic_link_subject").Parse(`Your ClaimGate sign-in link`)),
		body: template.Must(template.New("magic_link_body").Parse(`Hello,

Use the link below to sign in to ClaimGate as {{.Email}}:

{{.Link}}

The link works once and expires in {{.ExpiresIn}}. If you did not ask to sign in,
you can ignore this email.
`)),
	},
	TemplateActivation: {
		subject: template.Must(template.New("activation_subject").Parse(`Activate your ClaimGate account`)),
		body: template.Must(template.New("activation_body").Parse(`Welcome to ClaimGate!

Your membership for {{.Email}} is ready. Set a password to activate your account:

{{.Link}}

This link expires in {{.ExpiresIn}}.
`)),
	},
}

// Render builds the message for a named template.
func Render(name string, to string, data LinkData) (Message, error) {
	tmpl, ok := templates[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown email template %q", name)
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s subject: %w", name, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s body: %w", name, err)
	}

	return Message{
		To:       to,
		Subject:  subject.String(),
		Body:     body.String(),
		Template: name,
	}, nil
}
