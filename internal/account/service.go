// Package account implements account lifecycle on top of the ledger store.
// Every read and delete is scoped to the requesting owner.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
	"tradedesk/internal/ledger"
)

// Service manages paper-trading accounts.
type Service struct {
	store          ledger.Store
	defaultBalance decimal.Decimal
	log            *slog.Logger
}

// NewService creates a Service. defaultBalance seeds accounts created
// without an explicit starting balance.
func NewService(store ledger.Store, defaultBalance decimal.Decimal, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:          store,
		defaultBalance: defaultBalance,
		log:            log.With("component", "account"),
	}
}

// CreateParams are the caller-supplied fields for a new account.
type CreateParams struct {
	OwnerID string
	Name    string

	// InitialBalance overrides the service default when positive.
	InitialBalance *decimal.Decimal
}

// Create opens a new account seeded with its initial cash balance.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Account, error) {
	if p.OwnerID == "" {
		return nil, &domain.ValidationError{Message: "owner_id is required"}
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, &domain.ValidationError{Message: "name is required"}
	}

	balance := s.defaultBalance
	if p.InitialBalance != nil {
		if !p.InitialBalance.IsPositive() {
			return nil, &domain.ValidationError{Message: "initial_balance must be positive"}
		}
		balance = *p.InitialBalance
	}

	a := &domain.Account{
		ID:             uuid.NewString(),
		OwnerID:        p.OwnerID,
		Name:           name,
		CashBalance:    balance,
		InitialBalance: balance,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	s.log.Info("account created", "account", a.ID, "owner", a.OwnerID, "balance", balance.String())
	return a, nil
}

// Get returns the account when it belongs to ownerID. A foreign account
// fails with ErrForbidden rather than leaking existence.
func (s *Service) Get(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	a, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	return a, nil
}

// List returns the owner's accounts in creation order.
func (s *Service) List(ctx context.Context, ownerID string) ([]domain.Account, error) {
	return s.store.ListAccounts(ctx, ownerID)
}

// Delete removes the account with all its positions, orders, and fills.
func (s *Service) Delete(ctx context.Context, ownerID, accountID string) error {
	if _, err := s.Get(ctx, ownerID, accountID); err != nil {
		return err
	}
	if err := s.store.DeleteAccount(ctx, accountID); err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	s.log.Info("account deleted", "account", accountID, "owner", ownerID)
	return nil
}
