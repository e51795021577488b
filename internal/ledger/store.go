// Package ledger defines the durable store for accounts, positions, orders,
// and fills, and owns every mutation of balances. Settlement is a single
// atomic operation: a failure at any point leaves the store unchanged.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
)

// AccountStore persists and retrieves account records.
type AccountStore interface {
	// CreateAccount inserts a new account.
	CreateAccount(ctx context.Context, a *domain.Account) error

	// GetAccount retrieves an account by ID. Returns
	// domain.ErrAccountNotFound when no such account exists.
	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	// ListAccounts returns all accounts owned by ownerID in creation order.
	ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error)

	// DeleteAccount removes an account; positions, orders, and fills cascade.
	DeleteAccount(ctx context.Context, id string) error
}

// PositionStore retrieves position records. Positions are only ever written
// through Settle.
type PositionStore interface {
	// GetPosition returns the position for (accountID, symbol), or (nil, nil)
	// when the account holds no shares of the symbol.
	GetPosition(ctx context.Context, accountID, symbol string) (*domain.Position, error)

	// ListPositions returns all open positions for an account.
	ListPositions(ctx context.Context, accountID string) ([]domain.Position, error)
}

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// SaveOrder inserts a new order row (used for rejected and deferred
	// pending orders; filled orders are inserted by Settle).
	SaveOrder(ctx context.Context, o *domain.Order) error

	// GetOrder retrieves an order by ID. Returns domain.ErrOrderNotFound
	// when no such order exists.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns all orders for an account in creation order.
	ListOrders(ctx context.Context, accountID string) ([]domain.Order, error)

	// UpdateOrder persists status/timestamp changes to an existing order.
	UpdateOrder(ctx context.Context, o *domain.Order) error
}

// FillStore retrieves fill records. Fills are only written through Settle.
type FillStore interface {
	// ListFills returns all fills for an account in execution order.
	ListFills(ctx context.Context, accountID string) ([]domain.Fill, error)
}

// WatchlistStore persists per-owner watchlists.
type WatchlistStore interface {
	// Watchlist returns the owner's symbols in the order they were added.
	Watchlist(ctx context.Context, ownerID string) ([]string, error)

	// AddToWatchlist inserts a symbol; adding an existing symbol is a no-op.
	AddToWatchlist(ctx context.Context, ownerID, symbol string) error

	// RemoveFromWatchlist deletes a symbol from the owner's watchlist.
	RemoveFromWatchlist(ctx context.Context, ownerID, symbol string) error
}

// Settlement describes the complete effect of filling one order. Settle
// applies all of it in one transaction or none of it.
type Settlement struct {
	// Order is the filled order to insert (status, filled quantity, and
	// average fill price already set by the engine).
	Order *domain.Order

	// Fill is the execution record to insert.
	Fill *domain.Fill

	// NewCash is the account's cash balance after the debit/credit.
	NewCash decimal.Decimal

	// Position is the resulting position to upsert. Nil together with
	// RemovePosition means the position row is deleted (quantity reached
	// zero). Nil without RemovePosition is invalid.
	Position *domain.Position

	// RemovePosition deletes the (account, symbol) position row.
	RemovePosition bool
}

// Store is the full ledger interface the engine and services depend on.
type Store interface {
	AccountStore
	PositionStore
	OrderStore
	FillStore
	WatchlistStore

	// Settle atomically applies a settlement: account cash update, position
	// upsert or delete, order insert, fill insert.
	Settle(ctx context.Context, s *Settlement) error

	Close() error
}
