// Package registry holds the in-memory account registry. The registry
// is read-only to the core; the configuration collaborator replaces
// its contents wholesale to pick up changes.
package registry

import (
	"sync/atomic"

	"github.com/lu-zhengda/mailgate/internal/domain"
	"github.com/lu-zhengda/mailgate/internal/handler"
)

type snapshot struct {
	byID  map[string]domain.Account
	order []domain.Account
}

// Registry maps account ids to account records. Lookups and listings
// read a consistent snapshot; Replace swaps the snapshot atomically so
// readers never observe a half-applied reload.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// New returns a registry holding the given accounts in load order.
func New(accounts ...domain.Account) *Registry {
	r := &Registry{}
	r.Replace(accounts)
	return r
}

// Replace swaps the registry contents. Later duplicates of an id win,
// matching last-entry-wins config semantics.
func (r *Registry) Replace(accounts []domain.Account) {
	s := &snapshot{
		byID:  make(map[string]domain.Account, len(accounts)),
		order: make([]domain.Account, len(accounts)),
	}
	copy(s.order, accounts)
	for _, a := range accounts {
		s.byID[a.ID] = a
	}
	r.snap.Store(s)
}

// Get returns the account for id, or a NotFound error.
func (r *Registry) Get(id string) (domain.Account, error) {
	s := r.snap.Load()
	acct, ok := s.byID[id]
	if !ok {
		return domain.Account{}, handler.Errorf(handler.KindNotFound, "unknown account %q", id)
	}
	return acct, nil
}

// List returns all accounts in load order.
func (r *Registry) List() []domain.Account {
	s := r.snap.Load()
	out := make([]domain.Account, len(s.order))
	copy(out, s.order)
	return out
}
