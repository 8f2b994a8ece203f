package sending

import (
	"context"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Transport delivers one rendered message through a concrete ESP.
// Implementations must be safe for concurrent use.
//
// A rejection by the ESP is reported as a SendResult with Success=false and
// a nil error. A non-nil error means the message could not be handed over at
// all (misconfiguration, network failure). The pool treats both as a failed
// attempt.
type Transport interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// Ledger is the part of the delivery ledger the pool needs.
type Ledger interface {
	Append(ctx context.Context, rec *domain.DeliveryRecord) error
	// CountByAccount groups records created in [from, to) by account key.
	CountByAccount(ctx context.Context, from, to time.Time) (map[string]domain.AccountUsage, error)
}
