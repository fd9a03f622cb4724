package email

import "context"

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendReceipt(ctx context.Context, to string, receipt Receipt) error
}

// Receipt is the data rendered into the donation receipt email.
type Receipt struct {
	PlatformName string
	DonorName    string
	AmountCents  int64
	FeeCents     int64
	Currency     string
	DonationID   string
	PaidAt       string
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (p *NoOpProvider) SendReceipt(ctx context.Context, to string, receipt Receipt) error {
	return nil
}
