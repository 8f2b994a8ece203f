package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// RecipientDirectory implements campaign.RecipientDirectory.
type RecipientDirectory struct {
	mu    sync.Mutex
	users []domain.Recipient // sorted by ID
}

// NewRecipientDirectory creates a directory holding users.
func NewRecipientDirectory(users ...domain.Recipient) *RecipientDirectory {
	d := &RecipientDirectory{}
	d.Add(users...)
	return d
}

// Add inserts recipients, keeping id order.
func (d *RecipientDirectory) Add(users ...domain.Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, users...)
	sort.Slice(d.users, func(i, j int) bool { return d.users[i].ID < d.users[j].ID })
}

func (d *RecipientDirectory) Batch(_ context.Context, afterID int64, limit int) ([]domain.Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := sort.Search(len(d.users), func(i int) bool { return d.users[i].ID > afterID })
	end := i + limit
	if end > len(d.users) {
		end = len(d.users)
	}
	if i >= end {
		return nil, nil
	}
	return append([]domain.Recipient(nil), d.users[i:end]...), nil
}

func (d *RecipientDirectory) Count(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users), nil
}

func (d *RecipientDirectory) Find(_ context.Context, email string) (*domain.Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}
