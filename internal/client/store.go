package client

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

var (
	ErrOrderNotFound    = errors.New("order not found in local store")
	ErrCustomerNotFound = errors.New("customer not found in local store")
)

// Store is the client's local mirror of the synced tables. Every operation
// takes its own connection or transaction and releases it before returning.
type Store struct {
	db  *sql.DB
	Now func() time.Time
}

// Open creates or opens the SQLite mirror at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// single writer avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already prepared database.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// OrderRow is an order as the worklist shows it.
type OrderRow struct {
	orders.Order
	CustomerName string
}

const orderRowColumns = `o.id, o.created_at, o.status, o.assigned_user_id, o.customer_id,
	o.updated_at, o.version, o.deleted, COALESCE(c.name, '')`

func scanOrderRow(sc scanner) (OrderRow, error) {
	var (
		row              OrderRow
		created, updated string
		assigned         sql.NullString
		status           string
	)
	err := sc.Scan(&row.ID, &created, &status, &assigned, &row.CustomerID,
		&updated, &row.Version, &row.Deleted, &row.CustomerName)
	if err != nil {
		return row, err
	}
	row.Status = orders.Status(status)
	if assigned.Valid {
		row.AssignedUserID = &assigned.String
	}
	if row.CreatedAt, err = parseTime(created); err != nil {
		return row, fmt.Errorf("order %s created_at: %w", row.ID, err)
	}
	if row.UpdatedAt, err = parseTime(updated); err != nil {
		return row, fmt.Errorf("order %s updated_at: %w", row.ID, err)
	}
	return row, nil
}

// Orders returns the visible local orders, newest first.
func (s *Store) Orders(ctx context.Context) ([]OrderRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderRowColumns+`
		FROM orders o LEFT JOIN customers c ON c.id = o.customer_id
		WHERE o.deleted = 0
		ORDER BY o.created_at DESC, o.id`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		row, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func getOrder(ctx context.Context, q querier, id string) (OrderRow, error) {
	row, err := scanOrderRow(q.QueryRowContext(ctx, `SELECT `+orderRowColumns+`
		FROM orders o LEFT JOIN customers c ON c.id = o.customer_id
		WHERE o.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return row, err
}

// Order loads one order by id, including local tombstones.
func (s *Store) Order(ctx context.Context, id string) (OrderRow, error) {
	return getOrder(ctx, s.db, id)
}

const customerColumns = `id, name, street, postal_code, city, updated_at, version, deleted`

func scanCustomer(sc scanner) (orders.Customer, error) {
	var (
		c       orders.Customer
		updated string
	)
	if err := sc.Scan(&c.ID, &c.Name, &c.Street, &c.PostalCode, &c.City, &updated, &c.Version, &c.Deleted); err != nil {
		return c, err
	}
	var err error
	c.UpdatedAt, err = parseTime(updated)
	return c, err
}

func (s *Store) Customers(ctx context.Context) ([]orders.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+`
		FROM customers WHERE deleted = 0 ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var out []orders.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func getCustomer(ctx context.Context, q querier, id string) (orders.Customer, error) {
	c, err := scanCustomer(q.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
	}
	return c, err
}

// Stats returns the last pulled customer statistics.
func (s *Store) Stats(ctx context.Context) ([]orders.CustomerStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, orders_created_in_this_month, worker_count_for_orders, updated_at, version
		FROM customer_stats ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []orders.CustomerStats
	for rows.Next() {
		var (
			st      orders.CustomerStats
			updated string
		)
		if err := rows.Scan(&st.ID, &st.OrdersCreatedInThisMonth, &st.WorkerCountForOrders, &updated, &st.Version); err != nil {
			return nil, err
		}
		if st.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func upsertOrder(ctx context.Context, q querier, o orders.Order) error {
	_, err := q.ExecContext(ctx, `INSERT INTO orders(id, created_at, status, assigned_user_id, customer_id, updated_at, version, deleted)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			status = excluded.status,
			assigned_user_id = excluded.assigned_user_id,
			customer_id = excluded.customer_id,
			updated_at = excluded.updated_at,
			version = excluded.version,
			deleted = excluded.deleted`,
		o.ID, fmtTime(o.CreatedAt), string(o.Status), o.AssignedUserID, o.CustomerID, fmtTime(o.UpdatedAt), o.Version, o.Deleted)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}
	return nil
}

func upsertCustomer(ctx context.Context, q querier, c orders.Customer) error {
	_, err := q.ExecContext(ctx, `INSERT INTO customers(id, name, street, postal_code, city, updated_at, version, deleted)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			street = excluded.street,
			postal_code = excluded.postal_code,
			city = excluded.city,
			updated_at = excluded.updated_at,
			version = excluded.version,
			deleted = excluded.deleted`,
		c.ID, c.Name, c.Street, c.PostalCode, c.City, fmtTime(c.UpdatedAt), c.Version, c.Deleted)
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", c.ID, err)
	}
	return nil
}

func upsertStats(ctx context.Context, q querier, st orders.CustomerStats) error {
	_, err := q.ExecContext(ctx, `INSERT INTO customer_stats(id, orders_created_in_this_month, worker_count_for_orders, updated_at, version)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			orders_created_in_this_month = excluded.orders_created_in_this_month,
			worker_count_for_orders = excluded.worker_count_for_orders,
			updated_at = excluded.updated_at,
			version = excluded.version`,
		st.ID, st.OrdersCreatedInThisMonth, st.WorkerCountForOrders, fmtTime(st.UpdatedAt), st.Version)
	if err != nil {
		return fmt.Errorf("upsert stats %s: %w", st.ID, err)
	}
	return nil
}

var localTables = map[string]string{
	orders.TableOrders:    "orders",
	orders.TableCustomers: "customers",
	orders.TableStats:     "customer_stats",
}

func localTable(table string) (string, error) {
	t, ok := localTables[table]
	if !ok {
		return "", fmt.Errorf("unknown table %q", table)
	}
	return t, nil
}

type applyOutcome int

const (
	applySkipped applyOutcome = iota
	applyAdded
	applyReplaced
	applyDeleted
)

// applyRow stores one row received from the server. Tombstones remove the
// local copy; rows with a queued local change are left alone until pushed.
func applyRow(ctx context.Context, q querier, table string, raw json.RawMessage) (applyOutcome, orders.Meta, error) {
	var meta orders.Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return applySkipped, meta, fmt.Errorf("decode %s row: %w", table, err)
	}
	local, err := localTable(table)
	if err != nil {
		return applySkipped, meta, err
	}

	var queued int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations WHERE table_name = ? AND row_id = ?`,
		table, meta.ID).Scan(&queued); err != nil {
		return applySkipped, meta, err
	}
	if queued > 0 {
		return applySkipped, meta, nil
	}

	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+local+` WHERE id = ?`, meta.ID).Scan(&exists); err != nil {
		return applySkipped, meta, err
	}

	if meta.Deleted {
		if exists == 0 {
			return applySkipped, meta, nil
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM `+local+` WHERE id = ?`, meta.ID); err != nil {
			return applySkipped, meta, err
		}
		return applyDeleted, meta, nil
	}

	switch table {
	case orders.TableOrders:
		var o orders.Order
		if err = json.Unmarshal(raw, &o); err == nil {
			err = upsertOrder(ctx, q, o)
		}
	case orders.TableCustomers:
		var c orders.Customer
		if err = json.Unmarshal(raw, &c); err == nil {
			err = upsertCustomer(ctx, q, c)
		}
	case orders.TableStats:
		var st orders.CustomerStats
		if err = json.Unmarshal(raw, &st); err == nil {
			err = upsertStats(ctx, q, st)
		}
	}
	if err != nil {
		return applySkipped, meta, err
	}
	if exists == 0 {
		return applyAdded, meta, nil
	}
	return applyReplaced, meta, nil
}

// DeltaToken is the updatedAt of the newest row pulled for table, or zero.
func (s *Store) DeltaToken(ctx context.Context, table string) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT updated_since FROM delta_tokens WHERE table_name = ?`, table).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("delta token %s: %w", table, err)
	}
	return parseTime(v)
}

func setDeltaToken(ctx context.Context, q querier, table string, t time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT INTO delta_tokens(table_name, updated_since) VALUES (?,?)
		ON CONFLICT(table_name) DO UPDATE SET updated_since = excluded.updated_since`, table, fmtTime(t))
	return err
}

// ApplyPage stores one pulled page and advances the table's delta token in
// the same transaction.
func (s *Store) ApplyPage(ctx context.Context, table string, items []json.RawMessage, res *PullResult) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var newest time.Time
		for _, raw := range items {
			outcome, meta, err := applyRow(ctx, tx, table, raw)
			if err != nil {
				return err
			}
			res.count(outcome)
			if meta.UpdatedAt.After(newest) {
				newest = meta.UpdatedAt
			}
		}
		if newest.IsZero() {
			return nil
		}
		cur, err := tokenIn(ctx, tx, table)
		if err != nil {
			return err
		}
		if newest.After(cur) {
			return setDeltaToken(ctx, tx, table, newest)
		}
		return nil
	})
}

func tokenIn(ctx context.Context, q querier, table string) (time.Time, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT updated_since FROM delta_tokens WHERE table_name = ?`, table).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(v)
}

// ReplaceStats swaps the whole statistics mirror for items. The projection is
// recomputed on every server read, so it is never pulled incrementally.
func (s *Store) ReplaceStats(ctx context.Context, items []json.RawMessage, res *PullResult) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM customer_stats`); err != nil {
			return err
		}
		for _, raw := range items {
			var st orders.CustomerStats
			if err := json.Unmarshal(raw, &st); err != nil {
				return fmt.Errorf("decode stats row: %w", err)
			}
			if err := upsertStats(ctx, tx, st); err != nil {
				return err
			}
			res.Replacements++
		}
		return nil
	})
}
