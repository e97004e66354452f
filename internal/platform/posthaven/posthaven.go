// Package posthaven publishes blog posts by email: the subject becomes the
// title, the HTML body the post, and the images are attached as 1.jpg, 2.jpg...
package posthaven

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"os"
	"strconv"
	"time"

	"github.com/jordan-wright/email"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/fanout"
)

// SendFunc delivers a composed email. It must return once ctx is done.
type SendFunc func(ctx context.Context, e *email.Email) error

// DefaultSendTimeout bounds an SMTP session when ctx carries no deadline.
const DefaultSendTimeout = 2 * time.Minute

type Publisher struct {
	cfg    config.PosthavenConfig
	send   SendFunc
	logger *zap.Logger
}

// New creates a publisher sending through the configured SMTP server with
// PLAIN auth, upgrading to STARTTLS when the server offers it.
func New(cfg config.PosthavenConfig, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort))
	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	return &Publisher{
		cfg: cfg,
		send: func(ctx context.Context, e *email.Email) error {
			return sendSMTP(ctx, addr, cfg.SMTPHost, auth, e)
		},
		logger: logger.Named("posthaven"),
	}
}

// sendSMTP runs one SMTP session. The connection carries a deadline and is
// closed when ctx is done, so a stalled server cannot hold the session open.
func sendSMTP(ctx context.Context, addr, host string, auth smtp.Auth, e *email.Email) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultSendTimeout)
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = deliver(conn, host, auth, e)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func deliver(conn net.Conn, host string, auth smtp.Auth, e *email.Email) error {
	raw, err := e.Bytes()
	if err != nil {
		return err
	}
	from, err := mail.ParseAddress(e.From)
	if err != nil {
		return fmt.Errorf("parse from: %w", err)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if ok, _ := c.Extension("AUTH"); ok && auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from.Address); err != nil {
		return err
	}
	for _, rcpt := range append(append(append([]string(nil), e.To...), e.Cc...), e.Bcc...) {
		to, err := mail.ParseAddress(rcpt)
		if err != nil {
			return fmt.Errorf("parse recipient: %w", err)
		}
		if err := c.Rcpt(to.Address); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// WithSender replaces SMTP delivery.
func (p *Publisher) WithSender(send SendFunc) *Publisher {
	p.send = send
	return p
}

var _ fanout.Publisher = (*Publisher)(nil)

// Compose builds the email for msg without sending it.
func (p *Publisher) Compose(msg fanout.Message) (*email.Email, error) {
	from := p.cfg.From
	if from == "" {
		from = p.cfg.Username
	}

	e := email.NewEmail()
	e.From = from
	e.To = append([]string(nil), p.cfg.Recipients...)
	e.Subject = msg.Subject
	e.HTML = []byte(msg.HTML)

	for i, a := range msg.Assets {
		f, err := os.Open(a.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", a.Name, err)
		}
		_, err = e.Attach(f, strconv.Itoa(i+1)+".jpg", "image/jpeg")
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Name, err)
		}
	}
	return e, nil
}

// Publish sends the email. The SMTP session ends when ctx is done.
func (p *Publisher) Publish(ctx context.Context, msg fanout.Message) error {
	e, err := p.Compose(msg)
	if err != nil {
		return err
	}
	if err := p.send(ctx, e); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	p.logger.Debug("email sent", zap.Int("attachments", len(e.Attachments)))
	return nil
}
