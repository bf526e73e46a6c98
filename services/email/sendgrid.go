package emailsvc

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"sync"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sethvargo/go-retry"

	"github.com/trezcool/masomo-identity/core"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type SendgridService struct {
	key        string
	host       string
	appName    string
	from       *sgmail.Email
	subjPrefix string
	logger     core.Logger
	backoff    retry.Backoff
	wg         sync.WaitGroup
}

var _ core.EmailService = (*SendgridService)(nil)

type SendgridOption func(*SendgridService)

// WithSendgridHost replaces the Sendgrid API host.
func WithSendgridHost(host string) SendgridOption {
	return func(svc *SendgridService) { svc.host = host }
}

// WithSendgridBackoff sets the retry policy of failed (429 or 5xx) sends.
func WithSendgridBackoff(b retry.Backoff) SendgridOption {
	return func(svc *SendgridService) { svc.backoff = b }
}

func NewSendgridService(conf *core.Config, logger core.Logger, opts ...SendgridOption) *SendgridService {
	svc := &SendgridService{
		key:        conf.SendgridAPIKey,
		host:       sendgridHost,
		appName:    conf.AppName,
		from:       sgmail.NewEmail(conf.DefaultFromEmail.Name, conf.DefaultFromEmail.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
		backoff:    retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond)),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (svc *SendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		svc.wg.Add(1)
		go func() {
			defer svc.wg.Done()
			if err := msg.Render(svc.appName); err != nil {
				svc.logger.Error(fmt.Sprintf("rendering email: %v", err), err)
				return
			}
			if msg.HasRecipients() && msg.HasContent() {
				svc.send(*msg)
			}
		}()
	}
}

// Wait blocks until every pending message is sent or given up.
func (svc *SendgridService) Wait() {
	svc.wg.Wait()
}

func (svc *SendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject

	for _, to := range msg.To {
		p.AddTos(sgEmail(to))
	}
	for _, cc := range msg.Cc {
		p.AddCCs(sgEmail(cc))
	}
	for _, bcc := range msg.Bcc {
		p.AddBCCs(sgEmail(bcc))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)

	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	return m
}

func sgEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

func (svc *SendgridService) send(msg core.EmailMessage) {
	body := sgmail.GetRequestBody(svc.prepare(msg))

	err := retry.Do(context.Background(), svc.backoff, func(ctx context.Context) error {
		req := sendgrid.GetRequest(svc.key, sendgridEndpoint, svc.host)
		req.Method = http.MethodPost
		req.Body = body

		res, err := sendgrid.API(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		switch {
		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
			return retry.RetryableError(fmt.Errorf("status: %d - body: %s", res.StatusCode, res.Body))
		case res.StatusCode >= http.StatusBadRequest:
			return fmt.Errorf("status: %d - body: %s", res.StatusCode, res.Body)
		}
		return nil
	})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("sending email %q: %v", msg.Subject, err), err)
	}
}
