package sending

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/caltime"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// Account is one set of sending credentials with its own daily quota.
type Account struct {
	Key        string
	Provider   string
	DailyLimit int
	FromName   string
	FromEmail  string
	Transport  Transport
}

// Provider is one entry of the priority list. With more than one account it
// is a rotation pool: sends go round-robin over the members.
type Provider struct {
	Name     string
	Accounts []*Account
	next     atomic.Uint64
}

// Pool is the ordered set of providers.
type Pool struct {
	providers []*Provider
	accounts  map[string]*Account
	ledger    Ledger
	zone      *caltime.Zone
}

// NewPool builds a pool from providers in priority order. An empty list is
// accepted; it is reported as ErrNoProviders on first use.
func NewPool(providers []*Provider, ledger Ledger, zone *caltime.Zone) (*Pool, error) {
	p := &Pool{
		providers: providers,
		accounts:  make(map[string]*Account),
		ledger:    ledger,
		zone:      zone,
	}
	for _, prov := range providers {
		for _, acct := range prov.Accounts {
			if _, dup := p.accounts[acct.Key]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateAccount, acct.Key)
			}
			acct.Provider = prov.Name
			p.accounts[acct.Key] = acct
		}
	}
	if len(p.accounts) == 0 {
		logger.Warn("provider pool has no accounts; sends will fail until configured")
	}
	return p, nil
}

// Providers returns the priority list.
func (p *Pool) Providers() []*Provider { return p.providers }

// Account looks up an account by key.
func (p *Pool) Account(key string) (*Account, bool) {
	a, ok := p.accounts[key]
	return a, ok
}

// RemainingQuota returns today's usage and remaining quota for every account,
// keyed by account key. remaining = max(0, limit - sent).
func (p *Pool) RemainingQuota(ctx context.Context) (map[string]domain.AccountQuota, error) {
	from, to := p.zone.DayBounds(p.zone.Now())
	usage, err := p.ledger.CountByAccount(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("count today's deliveries: %w", err)
	}

	quotas := make(map[string]domain.AccountQuota, len(p.accounts))
	for _, prov := range p.providers {
		for _, a := range prov.Accounts {
			u := usage[a.Key]
			remaining := a.DailyLimit - u.Sent
			if remaining < 0 {
				remaining = 0
			}
			quotas[a.Key] = domain.AccountQuota{
				AccountKey: a.Key,
				Provider:   prov.Name,
				Sent:       u.Sent,
				Failed:     u.Failed,
				Limit:      a.DailyLimit,
				Remaining:  remaining,
			}
		}
	}
	return quotas, nil
}

// Stats returns the quota view of every account in priority order.
func (p *Pool) Stats(ctx context.Context) ([]domain.AccountQuota, error) {
	quotas, err := p.RemainingQuota(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AccountQuota, 0, len(quotas))
	for _, prov := range p.providers {
		for _, a := range prov.Accounts {
			out = append(out, quotas[a.Key])
		}
	}
	return out, nil
}

// Selection is the provider chosen for one batch, with a local view of its
// members' remaining quota that is consumed as sends succeed.
type Selection struct {
	Provider  *Provider
	remaining map[string]int
}

// Remaining is the selected provider's total remaining quota.
func (s *Selection) Remaining() int {
	total := 0
	for _, n := range s.remaining {
		total += n
	}
	return total
}

// Next returns the next member in rotation that still has quota, or nil.
func (s *Selection) Next() *Account {
	accts := s.Provider.Accounts
	for i := 0; i < len(accts); i++ {
		idx := int(s.Provider.next.Add(1)-1) % len(accts)
		a := accts[idx]
		if s.remaining[a.Key] > 0 {
			return a
		}
	}
	return nil
}

// Consume records one successful send against account key.
func (s *Selection) Consume(key string) {
	if s.remaining[key] > 0 {
		s.remaining[key]--
	}
}

// Select returns the first provider in priority order whose members have any
// remaining quota.
func (p *Pool) Select(quotas map[string]domain.AccountQuota) (*Selection, error) {
	if len(p.accounts) == 0 {
		return nil, ErrNoProviders
	}
	for _, prov := range p.providers {
		sel := &Selection{Provider: prov, remaining: make(map[string]int, len(prov.Accounts))}
		for _, a := range prov.Accounts {
			sel.remaining[a.Key] = quotas[a.Key].Remaining
		}
		if sel.Remaining() > 0 {
			return sel, nil
		}
	}
	return nil, ErrQuotaExhausted
}

// Send delivers msg and appends a delivery record for every attempt.
//
// With a non-empty accountKey the message goes through that account only
// and a failure is reported in the outcome without trying another account.
// With an empty key accounts are tried in priority order, skipping exhausted
// ones, until one succeeds.
//
// Transport failures never produce an error: they are reported in the
// returned Outcome. The error return is for configuration problems and
// ledger writes.
func (p *Pool) Send(ctx context.Context, msg *domain.EmailMessage, accountKey string) (*domain.Outcome, error) {
	if len(p.accounts) == 0 {
		return nil, ErrNoProviders
	}
	if accountKey != "" {
		acct, ok := p.accounts[accountKey]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountKey)
		}
		return p.attempt(ctx, acct, msg)
	}

	quotas, err := p.RemainingQuota(ctx)
	if err != nil {
		return nil, err
	}
	var last *domain.Outcome
	for _, prov := range p.providers {
		for _, acct := range prov.Accounts {
			if quotas[acct.Key].Remaining <= 0 {
				continue
			}
			out, err := p.attempt(ctx, acct, msg)
			if err != nil {
				return nil, err
			}
			if out.Success {
				return out, nil
			}
			last = out
			logger.Warn("send failed, failing over",
				"account", acct.Key, "recipient", msg.Email, "error", out.Error)
		}
	}
	if last == nil {
		return &domain.Outcome{Error: ErrQuotaExhausted.Error()}, ErrQuotaExhausted
	}
	return last, nil
}

func (p *Pool) attempt(ctx context.Context, acct *Account, msg *domain.EmailMessage) (*domain.Outcome, error) {
	out := *msg
	out.AccountKey = acct.Key
	if out.FromEmail == "" {
		out.FromEmail = acct.FromEmail
	}
	if out.FromName == "" {
		out.FromName = acct.FromName
	}

	res, sendErr := safeSend(ctx, acct.Transport, &out)

	rec := &domain.DeliveryRecord{
		ID:         uuid.New().String(),
		Recipient:  msg.Email,
		Subject:    msg.Subject,
		AccountKey: acct.Key,
		CreatedAt:  p.zone.Now(),
	}
	if msg.CampaignID != "" {
		id := msg.CampaignID
		rec.CampaignID = &id
	}

	outcome := &domain.Outcome{AccountKey: acct.Key, RecordID: rec.ID}
	switch {
	case sendErr != nil:
		rec.Outcome = domain.OutcomeFailed
		rec.Error = sendErr.Error()
	case res == nil || !res.Success:
		rec.Outcome = domain.OutcomeFailed
		rec.Error = "transport reported failure"
		if res != nil && res.Error != "" {
			rec.Error = res.Error
		}
	default:
		rec.Outcome = domain.OutcomeSent
		rec.ProviderMessageID = res.MessageID
		outcome.Success = true
		outcome.MessageID = res.MessageID
	}
	outcome.Error = rec.Error

	if err := p.ledger.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("append delivery record: %w", err)
	}
	return outcome, nil
}

// safeSend converts a transport panic into an error so one bad account
// cannot abort a batch.
func safeSend(ctx context.Context, t Transport, msg *domain.EmailMessage) (res *domain.SendResult, err error) {
	if t == nil {
		return nil, fmt.Errorf("account %s has no transport", msg.AccountKey)
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("transport panic: %v", r)
		}
	}()
	return t.Send(ctx, msg)
}
