package worker

import (
	"context"
	"fmt"

	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

// NewTransport creates the ESP transport for one configured account.
func NewTransport(ctx context.Context, kind string, a config.AccountConfig) (sending.Transport, error) {
	switch kind {
	case "sparkpost":
		if a.APIKey == "" {
			return nil, fmt.Errorf("no SparkPost API key")
		}
		return NewSparkPostSender(a.APIKey, a.BaseURL, a.Timeout()).WithRetry(a.Retries(), 0), nil
	case "ses":
		s, err := NewSESSender(ctx, SESOptions{
			AccessKey: a.AccessKey,
			SecretKey: a.SecretKey,
			Region:    a.Region,
			Endpoint:  a.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mailgun":
		if a.APIKey == "" {
			return nil, fmt.Errorf("no Mailgun API key")
		}
		return NewMailgunSender(a.APIKey, a.Domain, a.BaseURL, a.Timeout()).WithRetry(a.Retries(), 0), nil
	case "sendgrid":
		if a.APIKey == "" {
			return nil, fmt.Errorf("no SendGrid API key")
		}
		return NewSendGridSender(a.APIKey, a.BaseURL, a.Timeout()).WithRetry(a.Retries(), 0), nil
	case "smtp":
		if a.SMTPHost == "" {
			return nil, fmt.Errorf("no SMTP host")
		}
		return NewSMTPSender(a.SMTPHost, a.SMTPPort, a.Username, a.Password, a.Timeout()), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", kind)
	}
}

// BuildProviders turns the configured priority list into pool providers.
// Account keys follow config.ProviderConfig.AccountKey.
func BuildProviders(ctx context.Context, cfgs []config.ProviderConfig) ([]*sending.Provider, error) {
	providers := make([]*sending.Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		prov := &sending.Provider{Name: pc.Name}
		for i, ac := range pc.Accounts {
			key := pc.AccountKey(i)
			t, err := NewTransport(ctx, pc.Kind, ac)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", key, err)
			}
			prov.Accounts = append(prov.Accounts, &sending.Account{
				Key:        key,
				Provider:   pc.Name,
				DailyLimit: ac.DailyLimit,
				FromName:   ac.FromName,
				FromEmail:  ac.FromEmail,
				Transport:  t,
			})
		}
		providers = append(providers, prov)
	}
	return providers, nil
}
