// Package notify delivers the side effects queued by the order lifecycle:
// admin mails over SMTP and alerts to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"order-lifecycle/config"
	"order-lifecycle/internal/models"
	"order-lifecycle/internal/util"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Mail templates
const (
	TemplateOrderCreated   = "order-created"
	TemplateOrderCancelled = "order-cancelled"
)

var mailTemplates = template.Must(template.New("mail").Parse(`
{{define "order-created"}}
<h2>New order #{{.orderId}}</h2>
<p>Hello {{.adminName}},</p>
<p>Order #{{.orderId}} has been paid by bank transfer.</p>
<table>
	<tr><td>Amount</td><td>{{.amount}}</td></tr>
	<tr><td>Reference</td><td>{{.reference}}</td></tr>
	<tr><td>Delivery address</td><td>{{.deliveryAddress}}</td></tr>
</table>
<ul>
{{range .items}}<li>{{.productName}} ({{.productSize}}) x {{.quantity}}</li>
{{end}}</ul>
{{end}}
{{define "order-cancelled"}}
<h2>Order #{{.orderId}} cancelled</h2>
<p>Hello {{.adminName}},</p>
<p>Order #{{.orderId}} ({{.paymentMethod}}) was rejected{{if .amountRefunded}} and {{.amountRefunded}} was refunded to {{.toAccountNumber}} (ref {{.reference}}){{end}}.</p>
{{end}}
`))

// Dialer sends composed messages. Implemented by *gomail.Dialer.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Mailer struct {
	dialer Dialer
	from   string
	logger *zap.Logger
}

// NewMailer creates a mailer from SMTP settings
func NewMailer(cfg config.MailConfig) *Mailer {
	return NewMailerWithDialer(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From)
}

// NewMailerWithDialer creates a mailer with a custom dialer
func NewMailerWithDialer(dialer Dialer, from string) *Mailer {
	return &Mailer{
		dialer: dialer,
		from:   from,
		logger: util.ComponentLogger("mailer"),
	}
}

// Send renders job's template and delivers it
func (m *Mailer) Send(ctx context.Context, job models.MailJob) error {
	_, span := util.StartSpan(ctx, "Mailer.Send")
	defer span.End()

	if job.To == "" {
		return fmt.Errorf("mail job has no recipient")
	}

	body, err := Render(job.Template, job.Context)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", job.To)
	msg.SetHeader("Subject", job.Subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		util.RecordSpanError(span, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("Mail sent", zap.String("template", job.Template), zap.String("subject", job.Subject))
	return nil
}

// Render executes the named template with data
func Render(name string, data map[string]interface{}) (string, error) {
	if mailTemplates.Lookup(name) == nil {
		return "", fmt.Errorf("unknown mail template %q", name)
	}

	var buf bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}
