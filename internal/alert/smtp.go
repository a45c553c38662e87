package alert

import (
	"context"
	"errors"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/jordan-wright/email"
)

// SubjectPrefix tags every alert mail.
const SubjectPrefix = "[UOH Speech Alert] "

const sendTimeout = 10 * time.Second

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

type mailer interface {
	Send(e *email.Email, timeout time.Duration) error
}

// SMTPSender delivers alerts through a pooled SMTP connection.
type SMTPSender struct {
	pool mailer
	from string
	to   []string
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || len(cfg.To) == 0 {
		return nil, errors.New("smtp host and recipients are required")
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	pool, err := email.NewPool(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), 1, auth)
	if err != nil {
		return nil, err
	}
	return &SMTPSender{pool: pool, from: from, to: cfg.To}, nil
}

func (s *SMTPSender) message(subject, body string) *email.Email {
	e := email.NewEmail()
	e.From = s.from
	e.To = append([]string(nil), s.to...)
	e.Subject = SubjectPrefix + subject
	e.Text = []byte(body)
	return e
}

func (s *SMTPSender) Send(ctx context.Context, subject, body string) error {
	timeout := sendTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	return s.pool.Send(s.message(subject, body), timeout)
}
