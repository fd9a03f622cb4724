package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg Config
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", to[0], subject, mime, htmlBody))

	return smtp.SendMail(addr, auth, p.cfg.From, to, msg)
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`
<h2>Thank you for your donation{{if .DonorName}}, {{.DonorName}}{{end}}!</h2>
<p>Your donation to {{.PlatformName}} has been received.</p>
<table>
  <tr><td>Amount</td><td>{{.AmountFormatted}}</td></tr>
  {{if .FeeFormatted}}<tr><td>Processing fees covered</td><td>{{.FeeFormatted}}</td></tr>{{end}}
  <tr><td>Reference</td><td>{{.DonationID}}</td></tr>
  {{if .PaidAt}}<tr><td>Date</td><td>{{.PaidAt}}</td></tr>{{end}}
</table>
`))

func (p *SMTPProvider) SendReceipt(ctx context.Context, to string, receipt Receipt) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil
	}

	data := struct {
		Receipt
		AmountFormatted string
		FeeFormatted    string
	}{
		Receipt:         receipt,
		AmountFormatted: formatAmount(receipt.AmountCents, receipt.Currency),
	}
	if receipt.FeeCents > 0 {
		data.FeeFormatted = formatAmount(receipt.FeeCents, receipt.Currency)
	}

	var body bytes.Buffer
	if err := receiptTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render receipt: %w", err)
	}

	subject := fmt.Sprintf("Your donation receipt from %s", receipt.PlatformName)
	return p.Send(ctx, []string{to}, subject, body.String())
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}
