// Package notifier emails job outcomes.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/ibeckermayer/notedraft/internal/config"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/notifier/providers"
	"github.com/ibeckermayer/notedraft/internal/types"
)

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// Notifier sends an email for each failed outcome.
type Notifier struct {
	sender          Sender
	to              string
	loc             *time.Location
	notifyOnSuccess bool
	log             logx.Logger
}

// New creates a new notifier with the given sender
func New(sender Sender, to string, loc *time.Location, log logx.Logger) *Notifier {
	return &Notifier{sender: sender, to: to, loc: loc, log: log.Component("notifier")}
}

// NewFromConfig creates a notifier based on configuration. It returns nil
// when email is not configured.
func NewFromConfig(cfg config.EmailConfig, loc *time.Location, log logx.Logger) (*Notifier, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	var sender Sender
	switch cfg.Provider {
	case "", "smtp":
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.FromAddr,
		)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}

	n := New(sender, cfg.ToAddr, loc, log)
	n.notifyOnSuccess = cfg.NotifySuccess
	return n, nil
}

// NotifyOutcome emails o when it failed, or always when success mails are on.
func (n *Notifier) NotifyOutcome(ctx context.Context, o types.PostOutcome) error {
	if o.Success && !n.notifyOnSuccess {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := BuildOutcomeMessage(o, n.loc)
	if err != nil {
		return err
	}
	if err := n.sender.Send(n.to, msg.Subject, msg.HTMLBody, msg.PlainBody); err != nil {
		return err
	}
	n.log.Info("outcome email sent", logx.String("schedule", o.ScheduleID), logx.Bool("success", o.Success))
	return nil
}
