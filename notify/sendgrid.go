/*
Package notify drafts guest emails for activities that notify the guest.

PURPOSE:
  Implements reception.GuestNotifier with SendGrid. Recipients come from
  guestsDetails/{bookingRef}/{occupantId}/email; a booking with no email on
  file is deferred, not failed, so reception can add one and retry.

OUTCOMES:
  drafted   SendGrid accepted the message
  deferred  nothing to send to yet
  error     SendGrid refused the request (status >= 400) or was unreachable

TEMPLATES:
  Each activity code may map to a SendGrid dynamic template. Codes without
  one get a plain-text message built from Subjects.
*/
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/warp/reception-ledger/ledger"
	"github.com/warp/reception-ledger/reception"
)

// Subjects per notifying activity code.
var Subjects = map[reception.ActivityCode]string{
	reception.CodeFirstReminder:       "Reminder: complete your booking",
	reception.CodeSecondReminder:      "Second reminder: complete your booking",
	reception.CodeCancellationWarning: "Your booking will be cancelled",
	reception.CodePaymentFailed:       "We could not take your payment",
	reception.CodePaymentFailedAgain:  "Your payment failed again",
	reception.CodePaymentFailedFinal:  "Final notice: payment failed",
	reception.CodeAgreementReceived:   "We received your agreement",
}

// Config for the SendGrid mailer.
type Config struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Templates maps activity codes to SendGrid dynamic template ids.
	Templates map[reception.ActivityCode]string
}

type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Mailer sends guest emails through SendGrid.
type Mailer struct {
	store  ledger.Store
	client sender
	cfg    Config
	log    *zap.Logger
}

var _ reception.GuestNotifier = (*Mailer)(nil)

func NewMailer(store ledger.Store, cfg Config, log *zap.Logger) *Mailer {
	return newMailer(store, sendgrid.NewSendClient(cfg.APIKey), cfg, log)
}

func newMailer(store ledger.Store, client sender, cfg Config, log *zap.Logger) *Mailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mailer{store: store, client: client, cfg: cfg, log: log}
}

type guestDetails struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}

type recipient struct {
	name  string
	email string
}

// DraftGuestEmail sends the message for req.ActivityCode to every guest of
// the booking with an email on file.
func (m *Mailer) DraftGuestEmail(ctx context.Context, req reception.EmailRequest) (reception.EmailOutcome, error) {
	to, err := m.recipients(ctx, req.BookingRef)
	if err != nil {
		return reception.EmailOutcome{}, err
	}
	if len(to) == 0 {
		return reception.EmailOutcome{
			Status: reception.EmailDeferred,
			Reason: "no guest email on file for booking " + req.BookingRef,
		}, nil
	}

	msg := m.message(req, to)
	resp, err := m.client.SendWithContext(ctx, msg)
	if err != nil {
		return reception.EmailOutcome{}, fmt.Errorf("failed to send email: %w", err)
	}
	addrs := make([]string, 0, len(to))
	for _, r := range to {
		addrs = append(addrs, r.email)
	}
	if resp.StatusCode >= 400 {
		return reception.EmailOutcome{
			Status:     reception.EmailError,
			Recipients: addrs,
			Reason:     fmt.Sprintf("sendgrid error: status %d", resp.StatusCode),
		}, nil
	}

	m.log.Info("guest email sent",
		zap.String("booking_ref", req.BookingRef),
		zap.Int("code", int(req.ActivityCode)),
		zap.Int("recipients", len(addrs)),
	)
	return reception.EmailOutcome{Status: reception.EmailDrafted, Recipients: addrs}, nil
}

func (m *Mailer) recipients(ctx context.Context, bookingRef string) ([]recipient, error) {
	var guests map[string]guestDetails
	if _, err := m.store.Get(ctx, reception.GuestDetailsPath(bookingRef), &guests); err != nil {
		return nil, fmt.Errorf("read guest details %s: %w", bookingRef, err)
	}
	seen := make(map[string]bool)
	var out []recipient
	for _, g := range guests {
		email := strings.TrimSpace(strings.ToLower(g.Email))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, recipient{name: strings.TrimSpace(g.FirstName + " " + g.LastName), email: email})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].email < out[j].email })
	return out, nil
}

func (m *Mailer) message(req reception.EmailRequest, to []recipient) *mail.SGMailV3 {
	from := mail.NewEmail(m.cfg.FromName, m.cfg.FromEmail)
	subject := Subjects[req.ActivityCode]
	if subject == "" {
		subject = "Your booking " + req.BookingRef
	}

	msg := mail.NewV3Mail()
	msg.SetFrom(from)
	p := mail.NewPersonalization()
	for _, r := range to {
		p.AddTos(mail.NewEmail(r.name, r.email))
	}

	if tmpl := m.cfg.Templates[req.ActivityCode]; tmpl != "" {
		msg.SetTemplateID(tmpl)
		p.SetDynamicTemplateData("bookingRef", req.BookingRef)
		p.SetDynamicTemplateData("activityCode", int(req.ActivityCode))
		p.SetDynamicTemplateData("subject", subject)
	} else {
		msg.Subject = subject
		msg.AddContent(mail.NewContent("text/plain",
			fmt.Sprintf("%s\n\nBooking reference: %s", subject, req.BookingRef)))
	}
	msg.AddPersonalizations(p)
	return msg
}
