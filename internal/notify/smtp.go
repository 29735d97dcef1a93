package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the mail server and addressing settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From     string
	FromName string
	// AdminEmail receives the new-signup notice. Defaults to Username.
	AdminEmail string
	Timeout    time.Duration
	Brand      Brand
}

// sender is the part of *mail.Client that SMTP needs.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTP is a Notifier that delivers through an SMTP relay.
type SMTP struct {
	cfg    SMTPConfig
	client sender
	now    func() time.Time
}

var _ Notifier = (*SMTP)(nil)

// NewSMTP builds an SMTP notifier. Port 465 uses implicit TLS; any other port
// upgrades with STARTTLS when the server offers it.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("notify: smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.AdminEmail == "" {
		cfg.AdminEmail = cfg.Username
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Brand == (Brand{}) {
		cfg.Brand = DefaultBrand()
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: creating smtp client: %w", err)
	}
	return newSMTPWithSender(cfg, client), nil
}

func newSMTPWithSender(cfg SMTPConfig, s sender) *SMTP {
	if cfg.Brand == (Brand{}) {
		cfg.Brand = DefaultBrand()
	}
	return &SMTP{cfg: cfg, client: s, now: time.Now}
}

// NotifyAdmin sends the new-signup notice to the configured admin address.
func (s *SMTP) NotifyAdmin(ctx context.Context, n AdminNotice) Outcome {
	if s.cfg.AdminEmail == "" {
		return Outcome{Err: fmt.Errorf("notify: no admin address configured")}
	}
	text, html, err := renderAdmin(s.cfg.Brand, n)
	if err != nil {
		return Outcome{Err: err}
	}
	subject := fmt.Sprintf("New Signup: %s [%s]", n.Email, n.SignupID)
	return s.send(ctx, s.cfg.AdminEmail, subject, n.SignupID, text, html)
}

// NotifyApplicant sends the welcome email to the applicant.
func (s *SMTP) NotifyApplicant(ctx context.Context, w Welcome) Outcome {
	text, html, err := renderWelcome(s.cfg.Brand, w, s.now().Year())
	if err != nil {
		return Outcome{Err: err}
	}
	subject := fmt.Sprintf("You're on the %s waitlist!", s.cfg.Brand.ProductName)
	return s.send(ctx, w.Email, subject, w.SignupID, text, html)
}

func (s *SMTP) send(ctx context.Context, to, subject, signupID, text, html string) Outcome {
	msg, err := s.message(to, subject, signupID, text, html)
	if err != nil {
		return Outcome{Err: err}
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return Outcome{Err: fmt.Errorf("notify: sending to %s: %w", to, err)}
	}

	var id string
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		id = ids[0]
	}
	return Outcome{Sent: true, MessageID: id}
}

func (s *SMTP) message(to, subject, signupID, text, html string) (*mail.Msg, error) {
	msg := mail.NewMsg()

	var err error
	if s.cfg.FromName != "" {
		err = msg.FromFormat(s.cfg.FromName, s.cfg.From)
	} else {
		err = msg.From(s.cfg.From)
	}
	if err != nil {
		return nil, fmt.Errorf("notify: invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("notify: invalid recipient: %w", err)
	}

	msg.Subject(subject)
	msg.SetMessageID()
	msg.SetDate()
	msg.SetGenHeader(mail.Header("X-Signup-ID"), signupID)
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)
	return msg, nil
}
