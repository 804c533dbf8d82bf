package service

import (
	"context"
	"fmt"

	"github.com/coursekit/enroll/internal/config"
	notificationdomain "github.com/coursekit/enroll/internal/notification/domain"
	"gopkg.in/gomail.v2"
)

type emailSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailSender builds the SMTP sender used by the outbox dispatcher.
func NewEmailSender(cfg config.Config) notificationdomain.Sender {
	return &emailSender{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
		from:   cfg.SMTPSender,
	}
}

func (s *emailSender) Send(_ context.Context, intent notificationdomain.Intent) error {
	subject, body := renderTemplate(intent)

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", intent.Recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	return s.dialer.DialAndSend(m)
}

func renderTemplate(intent notificationdomain.Intent) (subject, body string) {
	offering := stringVar(intent.Variables, "offering_title")
	endDate := stringVar(intent.Variables, "end_date")

	switch intent.Kind {
	case notificationdomain.KindRenewalSucceeded:
		subject = "Your subscription has been renewed"
		body = fmt.Sprintf(`
			<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
				<h2>Renewal confirmed</h2>
				<p>Your access to %s has been extended through %s.</p>
			</div>
		`, offering, endDate)
	case notificationdomain.KindRenewalFailed:
		subject = "We could not renew your subscription"
		body = fmt.Sprintf(`
			<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
				<h2>Renewal payment failed</h2>
				<p>Your current access to %s remains valid until %s.
				Please update your payment details to keep access.</p>
			</div>
		`, offering, endDate)
	case notificationdomain.KindGrantExpired:
		subject = "Your access has expired"
		body = fmt.Sprintf(`
			<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
				<h2>Access expired</h2>
				<p>Your access to %s ended on %s. You can re-enroll at any time.</p>
			</div>
		`, offering, endDate)
	default:
		subject = "Notification"
		body = fmt.Sprintf("<p>%s</p>", intent.Kind)
	}
	return subject, body
}

func stringVar(vars map[string]interface{}, key string) string {
	if vars == nil {
		return ""
	}
	if v, ok := vars[key].(string); ok {
		return v
	}
	return ""
}
