package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatch/internal/config"
)

func TestBuildProviders(t *testing.T) {
	cfgs := []config.ProviderConfig{
		{
			Name: "ses", Kind: "ses",
			Accounts: []config.AccountConfig{
				{DailyLimit: 1000, FromEmail: "news@sender.com", AccessKey: "AKID", SecretKey: "secret", Region: "eu-west-1"},
			},
		},
		{
			Name: "gmail", Kind: "smtp",
			Accounts: []config.AccountConfig{
				{DailyLimit: 500, FromEmail: "a@gmail.com", SMTPHost: "smtp.gmail.com", SMTPPort: 587, Username: "a@gmail.com", Password: "p1"},
				{DailyLimit: 500, FromEmail: "b@gmail.com", SMTPHost: "smtp.gmail.com", SMTPPort: 587, Username: "b@gmail.com", Password: "p2"},
			},
		},
		{
			Name: "sp", Kind: "sparkpost",
			Accounts: []config.AccountConfig{{DailyLimit: 10, FromEmail: "x@sp.com", APIKey: "k"}},
		},
	}

	providers, err := BuildProviders(context.Background(), cfgs)
	require.NoError(t, err)
	require.Len(t, providers, 3)

	assert.Equal(t, "ses", providers[0].Name)
	require.Len(t, providers[0].Accounts, 1)
	assert.Equal(t, "ses", providers[0].Accounts[0].Key)
	assert.IsType(t, &SESSender{}, providers[0].Accounts[0].Transport)

	require.Len(t, providers[1].Accounts, 2)
	assert.Equal(t, "gmail-1", providers[1].Accounts[0].Key)
	assert.Equal(t, "gmail-2", providers[1].Accounts[1].Key)
	assert.Equal(t, "b@gmail.com", providers[1].Accounts[1].FromEmail)
	assert.Equal(t, 500, providers[1].Accounts[1].DailyLimit)
	assert.IsType(t, &SMTPSender{}, providers[1].Accounts[0].Transport)

	assert.IsType(t, &SparkPostSender{}, providers[2].Accounts[0].Transport)
}

func TestBuildProviders_MissingCredentials(t *testing.T) {
	cfgs := []config.ProviderConfig{
		{Name: "mg", Kind: "mailgun", Accounts: []config.AccountConfig{{FromEmail: "x@mg.com"}}},
	}
	_, err := BuildProviders(context.Background(), cfgs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account mg")
}

func TestNewTransport_UnknownKind(t *testing.T) {
	_, err := NewTransport(context.Background(), "pigeon", config.AccountConfig{})
	assert.Error(t, err)
}

func TestNewTransport_SendGrid(t *testing.T) {
	tr, err := NewTransport(context.Background(), "sendgrid", config.AccountConfig{APIKey: "k", BaseURL: "https://api.sendgrid.com/v3"})
	require.NoError(t, err)
	sg, ok := tr.(*SendGridSender)
	require.True(t, ok)
	assert.Equal(t, "https://api.sendgrid.com/v3", sg.baseURL)
}
