// Package mailer renders and delivers customer notification emails.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"shop-service/logging"
	"shop-service/models"
)

var ErrUnknownNotification = errors.New("unknown notification type")

type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Compose renders the email for a notification event addressed to user.
func Compose(event models.NotificationEvent, user *models.User) (Message, error) {
	var b strings.Builder
	name := user.FullName
	if name == "" {
		name = user.Email
	}
	fmt.Fprintf(&b, "Hello %s,\n\n", name)

	var subject string
	switch event.Type {
	case models.NotificationOrderConfirmation:
		subject = fmt.Sprintf("Order %s confirmed", event.OrderNumber)
		fmt.Fprintf(&b, "Thank you for your order %s.\n\n", event.OrderNumber)
		for _, it := range event.Items {
			fmt.Fprintf(&b, "  %d x %s  %s\n", it.Quantity, it.ProductName, it.LineTotal().StringFixed(2))
		}
		fmt.Fprintf(&b, "\nTotal: %s\n", event.Total.StringFixed(2))
	case models.NotificationOrderShipped:
		subject = fmt.Sprintf("Order %s has shipped", event.OrderNumber)
		fmt.Fprintf(&b, "Your order %s is on its way.\n", event.OrderNumber)
		if event.CargoCompany != "" {
			fmt.Fprintf(&b, "Carrier: %s\n", event.CargoCompany)
		}
		if event.TrackingNumber != "" {
			fmt.Fprintf(&b, "Tracking number: %s\n", event.TrackingNumber)
		}
	case models.NotificationEmailVerification:
		if event.VerifyURL == "" {
			return Message{}, errors.New("verification link missing")
		}
		subject = "Confirm your email address"
		fmt.Fprintf(&b, "Please confirm your email address by opening this link:\n\n%s\n\n", event.VerifyURL)
		b.WriteString("If you did not create an account you can ignore this email.\n")
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownNotification, event.Type)
	}

	return Message{To: user.Email, ToName: user.FullName, Subject: subject, Body: b.String()}, nil
}

// SMTPMailer sends plain text mail through an SMTP relay. TLS is used when
// the relay offers it and PLAIN auth when a user is configured.
type SMTPMailer struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string

	send func(ctx context.Context, msg *mail.Msg) error
}

func NewSMTPMailer(host string, port int, user, password, from string) *SMTPMailer {
	m := &SMTPMailer{Host: host, Port: port, User: user, Password: password, From: from}
	m.send = m.dial
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := m.build(msg)
	if err != nil {
		return err
	}
	return m.send(ctx, out)
}

func (m *SMTPMailer) build(msg Message) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(m.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	var err error
	if msg.ToName != "" {
		err = out.AddToFormat(msg.ToName, msg.To)
	} else {
		err = out.To(msg.To)
	}
	if err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetMessageID()
	out.SetDate()
	out.SetBodyString(mail.TypeTextPlain, msg.Body)
	return out, nil
}

func (m *SMTPMailer) dial(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(m.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.User),
			mail.WithPassword(m.Password),
		)
	}
	client, err := mail.NewClient(m.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// LogMailer writes messages to the logger. Used when SMTP is not configured.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logging.OrNop(logger)}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
