package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"tradedesk/internal/domain"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	name            TEXT NOT NULL,
	cash_balance    TEXT NOT NULL,
	initial_balance TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id);

CREATE TABLE IF NOT EXISTS positions (
	account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	symbol       TEXT NOT NULL,
	quantity     INTEGER NOT NULL,
	average_cost TEXT NOT NULL,
	last_price   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (account_id, symbol)
);

CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	symbol           TEXT NOT NULL,
	type             TEXT NOT NULL,
	side             TEXT NOT NULL,
	quantity         INTEGER NOT NULL,
	limit_price      TEXT,
	stop_price       TEXT,
	status           TEXT NOT NULL,
	filled_quantity  INTEGER NOT NULL DEFAULT 0,
	avg_fill_price   TEXT NOT NULL DEFAULT '0',
	reason           TEXT NOT NULL DEFAULT '',
	notes            TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id);

CREATE TABLE IF NOT EXISTS fills (
	id          TEXT PRIMARY KEY,
	order_id    TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	price       TEXT NOT NULL,
	quantity    INTEGER NOT NULL,
	realized_pl TEXT NOT NULL DEFAULT '0',
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_account ON fills(account_id);

CREATE TABLE IF NOT EXISTS watchlists (
	owner_id TEXT NOT NULL,
	symbol   TEXT NOT NULL,
	added_at TEXT NOT NULL,
	PRIMARY KEY (owner_id, symbol)
);
`

// SQLiteStore implements Store backed by a SQLite database. Pass ":memory:"
// as the path for an ephemeral ledger (used by backtests and tests).
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the ledger database at dbPath, applies the
// schema, and returns a ready-to-use store.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %s: %w", dbPath, err)
	}

	// SQLite allows a single writer; one pooled connection also keeps the
	// in-memory database from being recreated per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Scan helpers
// ---------------------------------------------------------------------------

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// ---------------------------------------------------------------------------
// AccountStore implementation
// ---------------------------------------------------------------------------

// CreateAccount inserts a new account row.
func (s *SQLiteStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, owner_id, name, cash_balance, initial_balance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.Name, a.CashBalance.String(), a.InitialBalance.String(), fmtTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, cash_balance, initial_balance, created_at
		 FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	return a, err
}

// ListAccounts returns all accounts owned by ownerID in creation order.
func (s *SQLiteStore) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, cash_balance, initial_balance, created_at
		 FROM accounts WHERE owner_id = ? ORDER BY created_at, rowid`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account and, via foreign keys, its positions,
// orders, and fills.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (*domain.Account, error) {
	var a domain.Account
	var cash, initial, created string
	if err := r.Scan(&a.ID, &a.OwnerID, &a.Name, &cash, &initial, &created); err != nil {
		return nil, err
	}
	var err error
	if a.CashBalance, err = parseDecimal(cash); err != nil {
		return nil, fmt.Errorf("parsing cash_balance: %w", err)
	}
	if a.InitialBalance, err = parseDecimal(initial); err != nil {
		return nil, fmt.Errorf("parsing initial_balance: %w", err)
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &a, nil
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

// GetPosition returns the position for (accountID, symbol), or (nil, nil)
// when no row exists.
func (s *SQLiteStore) GetPosition(ctx context.Context, accountID, symbol string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT account_id, symbol, quantity, average_cost, last_price, updated_at
		 FROM positions WHERE account_id = ? AND symbol = ?`, accountID, symbol)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// ListPositions returns all open positions for an account, ordered by symbol.
func (s *SQLiteStore) ListPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, symbol, quantity, average_cost, last_price, updated_at
		 FROM positions WHERE account_id = ? ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func scanPosition(r rowScanner) (*domain.Position, error) {
	var p domain.Position
	var avg, last, updated string
	if err := r.Scan(&p.AccountID, &p.Symbol, &p.Quantity, &avg, &last, &updated); err != nil {
		return nil, err
	}
	var err error
	if p.AverageCost, err = parseDecimal(avg); err != nil {
		return nil, fmt.Errorf("parsing average_cost: %w", err)
	}
	if p.LastPrice, err = parseDecimal(last); err != nil {
		return nil, fmt.Errorf("parsing last_price: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const orderColumns = `id, account_id, symbol, type, side, quantity, limit_price,
	stop_price, status, filled_quantity, avg_fill_price, reason, notes,
	created_at, updated_at`

// SaveOrder inserts a new order row.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	return insertOrder(ctx, s.db, o)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOrder(ctx context.Context, db execer, o *domain.Order) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AccountID, o.Symbol, string(o.Type), string(o.Side), o.Quantity,
		optDecimal(o.LimitPrice), optDecimal(o.StopPrice), string(o.Status),
		o.FilledQuantity, o.AverageFillPrice.String(), o.Reason, o.Notes,
		fmtTime(o.CreatedAt), fmtTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder retrieves an order by ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

// ListOrders returns all orders for an account in creation order.
func (s *SQLiteStore) ListOrders(ctx context.Context, accountID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE account_id = ? ORDER BY created_at, rowid`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// UpdateOrder persists status, fill, and timestamp changes to an order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, filled_quantity = ?, avg_fill_price = ?,
		 reason = ?, updated_at = ? WHERE id = ?`,
		string(o.Status), o.FilledQuantity, o.AverageFillPrice.String(),
		o.Reason, fmtTime(o.UpdatedAt), o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func scanOrder(r rowScanner) (*domain.Order, error) {
	var o domain.Order
	var typ, side, status string
	var limitPrice, stopPrice sql.NullString
	var avgFill, created, updated string
	if err := r.Scan(&o.ID, &o.AccountID, &o.Symbol, &typ, &side, &o.Quantity,
		&limitPrice, &stopPrice, &status, &o.FilledQuantity, &avgFill,
		&o.Reason, &o.Notes, &created, &updated); err != nil {
		return nil, err
	}
	o.Type = domain.OrderType(typ)
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)

	var err error
	if limitPrice.Valid {
		d, err := parseDecimal(limitPrice.String)
		if err != nil {
			return nil, fmt.Errorf("parsing limit_price: %w", err)
		}
		o.LimitPrice = &d
	}
	if stopPrice.Valid {
		d, err := parseDecimal(stopPrice.String)
		if err != nil {
			return nil, fmt.Errorf("parsing stop_price: %w", err)
		}
		o.StopPrice = &d
	}
	if o.AverageFillPrice, err = parseDecimal(avgFill); err != nil {
		return nil, fmt.Errorf("parsing avg_fill_price: %w", err)
	}
	if o.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if o.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &o, nil
}

// ---------------------------------------------------------------------------
// FillStore implementation
// ---------------------------------------------------------------------------

// ListFills returns all fills for an account in execution order.
func (s *SQLiteStore) ListFills(ctx context.Context, accountID string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, account_id, symbol, side, price, quantity, realized_pl, created_at
		 FROM fills WHERE account_id = ? ORDER BY created_at, rowid`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side, price, realized, created string
		if err := rows.Scan(&f.ID, &f.OrderID, &f.AccountID, &f.Symbol, &side,
			&price, &f.Quantity, &realized, &created); err != nil {
			return nil, err
		}
		f.Side = domain.OrderSide(side)
		if f.Price, err = parseDecimal(price); err != nil {
			return nil, fmt.Errorf("parsing fill price: %w", err)
		}
		if f.RealizedPL, err = parseDecimal(realized); err != nil {
			return nil, fmt.Errorf("parsing realized_pl: %w", err)
		}
		if f.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ---------------------------------------------------------------------------
// WatchlistStore implementation
// ---------------------------------------------------------------------------

// Watchlist returns the owner's symbols in insertion order.
func (s *SQLiteStore) Watchlist(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol FROM watchlists WHERE owner_id = ? ORDER BY added_at, rowid`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// AddToWatchlist inserts a symbol; duplicates are ignored.
func (s *SQLiteStore) AddToWatchlist(ctx context.Context, ownerID, symbol string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO watchlists (owner_id, symbol, added_at) VALUES (?, ?, ?)`,
		ownerID, symbol, fmtTime(time.Now()))
	return err
}

// RemoveFromWatchlist deletes a symbol from the owner's watchlist.
func (s *SQLiteStore) RemoveFromWatchlist(ctx context.Context, ownerID, symbol string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlists WHERE owner_id = ? AND symbol = ?`, ownerID, symbol)
	return err
}

// ---------------------------------------------------------------------------
// Settlement
// ---------------------------------------------------------------------------

// Settle applies a settlement in one transaction: cash update, position
// upsert or delete, order insert, fill insert. Any error rolls back the
// entire transaction.
func (s *SQLiteStore) Settle(ctx context.Context, st *Settlement) error {
	if st.Order == nil || st.Fill == nil {
		return errors.New("settlement requires an order and a fill")
	}
	if st.Position == nil && !st.RemovePosition {
		return errors.New("settlement requires a position or RemovePosition")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning settlement tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET cash_balance = ? WHERE id = ?`,
		st.NewCash.String(), st.Order.AccountID)
	if err != nil {
		return fmt.Errorf("updating cash for %s: %w", st.Order.AccountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAccountNotFound
	}

	if st.RemovePosition {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM positions WHERE account_id = ? AND symbol = ?`,
			st.Order.AccountID, st.Order.Symbol); err != nil {
			return fmt.Errorf("deleting position: %w", err)
		}
	} else {
		p := st.Position
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO positions (account_id, symbol, quantity, average_cost, last_price, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(account_id, symbol) DO UPDATE SET
			   quantity = excluded.quantity,
			   average_cost = excluded.average_cost,
			   last_price = excluded.last_price,
			   updated_at = excluded.updated_at`,
			p.AccountID, p.Symbol, p.Quantity, p.AverageCost.String(),
			p.LastPrice.String(), fmtTime(p.UpdatedAt)); err != nil {
			return fmt.Errorf("upserting position: %w", err)
		}
	}

	if err := insertOrder(ctx, tx, st.Order); err != nil {
		return err
	}

	f := st.Fill
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fills (id, order_id, account_id, symbol, side, price, quantity, realized_pl, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, f.AccountID, f.Symbol, string(f.Side), f.Price.String(),
		f.Quantity, f.RealizedPL.String(), fmtTime(f.CreatedAt)); err != nil {
		return fmt.Errorf("inserting fill %s: %w", f.ID, err)
	}

	return tx.Commit()
}
