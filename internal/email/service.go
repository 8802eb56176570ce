// Package email sends account and workspace notifications over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	AppName  string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
	log    *zap.Logger
}

func NewService(config Config, logger *zap.Logger) *Service {
	if config.AppName == "" {
		config.AppName = "Kanban"
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
		log:    logger.Named("email"),
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart/alternative message with a plain-text part.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	const boundary = "boundary-kanban"
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, textBody)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	if err := s.send(s.server, s.auth, s.config.From, to, msg.Bytes()); err != nil {
		s.log.Warn("smtp send failed", zap.Strings("to", to), zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("send email: %w", err)
	}
	s.log.Debug("email sent", zap.Strings("to", to), zap.String("subject", subject))
	return nil
}

type messageData struct {
	AppName string
	Name    string
	URL     string
	Extra   string
}

func (s *Service) sendTemplate(to, subject, text string, tmpl *template.Template, data messageData) error {
	data.AppName = s.config.AppName
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return s.SendHTMLEmail([]string{to}, subject, text+"\r\n\r\n"+data.URL, buf.String())
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	return s.sendTemplate(to,
		fmt.Sprintf("Verify your %s account", s.config.AppName),
		"Verify your email address to activate your account:",
		verificationTemplate,
		messageData{Name: userName, URL: verificationURL})
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	return s.sendTemplate(to,
		fmt.Sprintf("Reset your %s password", s.config.AppName),
		"Use this link within one hour to choose a new password:",
		resetTemplate,
		messageData{Name: userName, URL: resetURL})
}

// SendInvitationEmail tells an existing user they were added to a workspace.
func (s *Service) SendInvitationEmail(to, userName, inviter, workspaceName, workspaceURL string) error {
	return s.sendTemplate(to,
		fmt.Sprintf("%s added you to %s", inviter, workspaceName),
		fmt.Sprintf("%s added you to the workspace %q:", inviter, workspaceName),
		invitationTemplate,
		messageData{Name: userName, URL: workspaceURL, Extra: fmt.Sprintf("%s added you to %s.", inviter, workspaceName)})
}

const layout = `{{define "layout"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #2f6feb; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #2f6feb; }
    </style>
</head>
<body>
    <h1>{{.AppName}}</h1>
    <p>Hi {{.Name}},</p>
    {{template "body" .}}
    <p class="link">{{.URL}}</p>
</body>
</html>{{end}}`

var (
	verificationTemplate = template.Must(template.Must(template.New("verification").Parse(layout)).Parse(`{{define "body"}}
    <p>Please verify your email address to activate your account.</p>
    <p><a href="{{.URL}}" class="button">Verify Email Address</a></p>
    <div class="footer">This link expires in 24 hours.</div>
{{end}}{{template "layout" .}}`))

	resetTemplate = template.Must(template.Must(template.New("password-reset").Parse(layout)).Parse(`{{define "body"}}
    <p>We received a request to reset your password.</p>
    <p><a href="{{.URL}}" class="button">Reset Password</a></p>
    <div class="footer">This link expires in 1 hour. If you did not ask for it, ignore this email.</div>
{{end}}{{template "layout" .}}`))

	invitationTemplate = template.Must(template.Must(template.New("invitation").Parse(layout)).Parse(`{{define "body"}}
    <p>{{.Extra}}</p>
    <p><a href="{{.URL}}" class="button">Open Workspace</a></p>
{{end}}{{template "layout" .}}`))
)
