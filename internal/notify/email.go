package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/smtp"
	"sort"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel composes RFC 5322 messages and relays them over SMTP behind a circuit breaker.
type EmailChannel struct {
	cfg     config.NotificationConfig
	send    SendFunc
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time
}

// NewEmailChannel builds the email channel; a nil send uses smtp.SendMail.
func NewEmailChannel(cfg config.NotificationConfig, send SendFunc, logger *zap.Logger) *EmailChannel {
	if send == nil {
		send = smtp.SendMail
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &EmailChannel{cfg: cfg, send: send, breaker: breaker, logger: logger, now: time.Now}
}

func (c *EmailChannel) Deliver(ctx context.Context, msg domain.NotificationMessage) (domain.DeliveryResult, error) {
	id := uuid.NewString()
	if !c.cfg.EmailEnabled {
		c.logger.Info("email delivery disabled; message queued",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.String("idempotency_key", msg.IdempotencyKey))
		return domain.DeliveryResult{ID: id, Status: domain.DeliveryQueued}, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.DeliveryResult{}, err
	}

	raw, err := c.compose(id, msg)
	if err != nil {
		return domain.DeliveryResult{}, err
	}

	var auth smtp.Auth
	if c.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", c.cfg.SMTPUsername, c.cfg.SMTPPassword, c.cfg.SMTPHost)
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(c.cfg.SMTPAddr(), auth, c.cfg.EmailFrom, []string{msg.To}, raw)
	})
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("smtp send: %w", err)
	}
	return domain.DeliveryResult{ID: id, Status: domain.DeliverySent}, nil
}

func (c *EmailChannel) compose(id string, msg domain.NotificationMessage) ([]byte, error) {
	var h mail.Header
	h.SetDate(c.now())
	h.SetAddressList("From", []*mail.Address{{Address: c.cfg.EmailFrom}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Message-Id", fmt.Sprintf("<%s@ticket-lifecycle>", id))
	if msg.IdempotencyKey != "" {
		h.Set("X-Idempotency-Key", msg.IdempotencyKey)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, plainBody(msg)); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

// plainBody uses Body when given; template messages fall back to their data as key: value lines.
func plainBody(msg domain.NotificationMessage) string {
	if msg.Body != "" {
		return msg.Body
	}
	keys := make([]string, 0, len(msg.Data))
	for k := range msg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %v\n", k, msg.Data[k])
	}
	return buf.String()
}
