package query

import (
	"context"
	"fmt"

	"github.com/sw33tLie/searchtrack/pkg/search"
)

// Account is the identity a query is restricted for. ID 0 is the
// anonymous account.
type Account struct {
	ID          int64    `json:"id" mapstructure:"id"`
	Name        string   `json:"name" mapstructure:"name"`
	Permissions []string `json:"permissions,omitempty" mapstructure:"permissions"`
	// Groups holds the ids of the groups the account is a member of.
	Groups []int64 `json:"groups,omitempty" mapstructure:"groups"`
}

func (a *Account) Authenticated() bool { return a != nil && a.ID != 0 }

func (a *Account) HasPermission(permission string) bool {
	if a == nil {
		return false
	}
	for _, p := range a.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// AccountResolver loads accounts for queries.
type AccountResolver interface {
	LoadAccount(ctx context.Context, id int64) (*Account, error)
	// CurrentAccount returns the account the query runs for when none was
	// set explicitly.
	CurrentAccount(ctx context.Context) (*Account, error)
}

// StaticAccounts resolves accounts from a fixed set. The zero Current is
// the anonymous account.
type StaticAccounts struct {
	Accounts map[int64]*Account
	Current  int64
}

func (s *StaticAccounts) LoadAccount(ctx context.Context, id int64) (*Account, error) {
	if id == 0 {
		return &Account{Name: "anonymous"}, nil
	}
	if a, ok := s.Accounts[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("account %d: %w", id, search.ErrNotFound)
}

func (s *StaticAccounts) CurrentAccount(ctx context.Context) (*Account, error) {
	return s.LoadAccount(ctx, s.Current)
}

// resolveAccount turns the access account option into an account.
func resolveAccount(ctx context.Context, accounts AccountResolver, raw any, set bool) (*Account, error) {
	if !set || raw == nil {
		if accounts == nil {
			return nil, &IllegalAccountError{Value: raw, Err: fmt.Errorf("no account resolver")}
		}
		a, err := accounts.CurrentAccount(ctx)
		if err != nil || a == nil {
			return nil, &IllegalAccountError{Value: raw, Err: err}
		}
		return a, nil
	}

	var id int64
	switch v := raw.(type) {
	case Account:
		return &v, nil
	case *Account:
		if v == nil {
			return nil, &IllegalAccountError{Value: raw}
		}
		return v, nil
	case int:
		id = int64(v)
	case int32:
		id = int64(v)
	case int64:
		id = v
	case uint:
		id = int64(v)
	case uint32:
		id = int64(v)
	case uint64:
		id = int64(v)
	default:
		return nil, &IllegalAccountError{Value: raw}
	}
	if id < 0 || accounts == nil {
		return nil, &IllegalAccountError{Value: raw}
	}
	a, err := accounts.LoadAccount(ctx, id)
	if err != nil || a == nil {
		return nil, &IllegalAccountError{Value: raw, Err: err}
	}
	return a, nil
}
