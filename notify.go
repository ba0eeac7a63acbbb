package accounts

import "context"

// MailTemplate identifies the message a Mailer should render.
type MailTemplate string

const (
	MailActivation        MailTemplate = "account.activation"
	MailActivationResend  MailTemplate = "account.activation.resend"
	MailTemporaryPassword MailTemplate = "account.temporary_password"
	MailAccountApproved   MailTemplate = "account.approved"
	MailAccountRejected   MailTemplate = "account.rejected"
)

// Mailer delivers account lifecycle notifications. Implementations own
// rendering and transport; the lifecycle only provides template data.
type Mailer interface {
	Send(ctx context.Context, template MailTemplate, recipient string, data map[string]any) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, template MailTemplate, recipient string, data map[string]any) error

// Send implements Mailer.
func (f MailerFunc) Send(ctx context.Context, template MailTemplate, recipient string, data map[string]any) error {
	if f == nil {
		return nil
	}
	return f(ctx, template, recipient, data)
}

type noopMailer struct{}

func (noopMailer) Send(context.Context, MailTemplate, string, map[string]any) error {
	return nil
}

// devMailer logs outgoing messages instead of delivering them. It keeps
// activation flows usable in development where no SMTP relay exists.
type devMailer struct {
	logger Logger
}

// NewDevMailer returns a Mailer that writes messages to the logger.
func NewDevMailer(logger Logger) Mailer {
	if logger == nil {
		logger = defLogger{}
	}
	return devMailer{logger: logger}
}

func (m devMailer) Send(_ context.Context, template MailTemplate, recipient string, data map[string]any) error {
	m.logger.Info("mail %s to %s: %v", template, recipient, data)
	return nil
}

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return noopMailer{}
	}
	return m
}
