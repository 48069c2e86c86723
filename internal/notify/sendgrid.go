package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/istudybucket/apiserver/config"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const verificationSubject = "Verify your istudybucket account"

// EmailClient is the subset of the SendGrid client the mailer uses.
type EmailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Mailer sends verification emails through SendGrid.
type Mailer struct {
	client    EmailClient
	from      *mail.Email
	verifyURL string
}

// NewMailer builds a Mailer backed by the SendGrid API.
func NewMailer(cfg config.SendGridConfig, verifyURL string) (*Mailer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	return NewMailerWithClient(sendgrid.NewSendClient(cfg.APIKey), cfg, verifyURL)
}

func NewMailerWithClient(client EmailClient, cfg config.SendGridConfig, verifyURL string) (*Mailer, error) {
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, errors.New("sendgrid from email is required")
	}
	if strings.TrimSpace(verifyURL) == "" {
		return nil, errors.New("verify url is required")
	}
	return &Mailer{
		client:    client,
		from:      mail.NewEmail(cfg.FromName, cfg.FromEmail),
		verifyURL: strings.TrimRight(verifyURL, "/"),
	}, nil
}

// VerificationLink returns the URL the user follows to verify.
func (m *Mailer) VerificationLink(msg VerificationMessage) string {
	return fmt.Sprintf("%s/%s?verToken=%s",
		m.verifyURL,
		url.PathEscape(msg.Username),
		url.QueryEscape(msg.Token),
	)
}

// SendVerification emails the verification link for msg.
func (m *Mailer) SendVerification(ctx context.Context, msg VerificationMessage) error {
	link := m.VerificationLink(msg)
	expires := msg.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")

	plain := fmt.Sprintf("Hi %s,\n\nConfirm your account by opening %s\n\nThe link expires at %s.\n", msg.Username, link, expires)
	html := fmt.Sprintf(`<p>Hi %s,</p><p><a href="%s">Confirm your account</a></p><p>The link expires at %s.</p>`, msg.Username, link, expires)

	message := mail.NewSingleEmail(m.from, verificationSubject, mail.NewEmail(msg.Username, msg.Email), plain, html)
	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send verification email: sendgrid status %d", resp.StatusCode)
	}
	return nil
}
