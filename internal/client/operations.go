package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/orders"
)

type OpKind string

const (
	OpInsert  OpKind = "insert"
	OpReplace OpKind = "replace"
	OpDelete  OpKind = "delete"
)

const (
	opPending = "pending"
	opFailed  = "failed"
)

// Operation is a local change waiting to be pushed. Version is the row
// version the change was based on and is sent as If-Match.
type Operation struct {
	Seq        int64
	Table      string
	RowID      string
	Kind       OpKind
	Item       json.RawMessage
	Version    string
	State      string
	LastError  string
	ServerItem json.RawMessage
	CreatedAt  time.Time
}

func (op Operation) Failed() bool { return op.State == opFailed }

// enqueue records a change, collapsing it into an already queued change for
// the same row.
func enqueue(ctx context.Context, q querier, op Operation) error {
	var kind string
	err := q.QueryRowContext(ctx, `SELECT kind FROM operations WHERE table_name = ? AND row_id = ?`,
		op.Table, op.RowID).Scan(&kind)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = q.ExecContext(ctx, `INSERT INTO operations(table_name, row_id, kind, item, version, created_at)
			VALUES (?,?,?,?,?,?)`,
			op.Table, op.RowID, string(op.Kind), string(op.Item), op.Version, fmtTime(op.CreatedAt))
	case err != nil:
	case OpKind(kind) == OpInsert && op.Kind == OpDelete:
		// never reached the server
		_, err = q.ExecContext(ctx, `DELETE FROM operations WHERE table_name = ? AND row_id = ?`, op.Table, op.RowID)
	case OpKind(kind) == OpInsert:
		_, err = q.ExecContext(ctx, `UPDATE operations SET item = ? WHERE table_name = ? AND row_id = ?`,
			string(op.Item), op.Table, op.RowID)
	default:
		_, err = q.ExecContext(ctx, `UPDATE operations SET kind = ?, item = ?, state = ?, last_error = '', server_item = ''
			WHERE table_name = ? AND row_id = ?`,
			string(op.Kind), string(op.Item), opPending, op.Table, op.RowID)
	}
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", op.Table, op.RowID, err)
	}
	return nil
}

// Operations returns the queued changes for table in the order they were made.
// An empty table returns the whole queue.
func (s *Store) Operations(ctx context.Context, table string) ([]Operation, error) {
	query := `SELECT seq, table_name, row_id, kind, item, version, state, last_error, server_item, created_at
		FROM operations`
	var args []any
	if table != "" {
		query += ` WHERE table_name = ?`
		args = append(args, table)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var (
			op                   Operation
			kind, item, srv, cat string
		)
		if err := rows.Scan(&op.Seq, &op.Table, &op.RowID, &kind, &item, &op.Version, &op.State, &op.LastError, &srv, &cat); err != nil {
			return nil, err
		}
		op.Kind = OpKind(kind)
		op.Item = json.RawMessage(item)
		if srv != "" {
			op.ServerItem = json.RawMessage(srv)
		}
		if op.CreatedAt, err = parseTime(cat); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// CompleteOperation removes a pushed change and stores the row the server
// answered with. A nil saved row means the server deleted it.
func (s *Store) CompleteOperation(ctx context.Context, op Operation, saved json.RawMessage) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE seq = ?`, op.Seq); err != nil {
			return err
		}
		if len(saved) == 0 {
			local, err := localTable(op.Table)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `DELETE FROM `+local+` WHERE id = ?`, op.RowID)
			return err
		}
		_, _, err := applyRow(ctx, tx, op.Table, saved)
		return err
	})
}

// FailOperation keeps a rejected change queued. For a version conflict the
// server copy is kept next to it so the conflict can be resolved later.
func (s *Store) FailOperation(ctx context.Context, op Operation, cause error, serverItem json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `UPDATE operations SET state = ?, last_error = ?, server_item = ? WHERE seq = ?`,
		opFailed, cause.Error(), string(serverItem), op.Seq)
	if err != nil {
		return fmt.Errorf("mark operation %d failed: %w", op.Seq, err)
	}
	return nil
}

// DiscardFailed drops every failed change and restores the server copy of the
// row where one is known. Rows the server no longer shows are removed.
func (s *Store) DiscardFailed(ctx context.Context) (int, error) {
	ops, err := s.Operations(ctx, "")
	if err != nil {
		return 0, err
	}
	n := 0
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			if !op.Failed() {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE seq = ?`, op.Seq); err != nil {
				return err
			}
			if len(op.ServerItem) > 0 {
				if _, _, err := applyRow(ctx, tx, op.Table, op.ServerItem); err != nil {
					return err
				}
			} else {
				local, err := localTable(op.Table)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM `+local+` WHERE id = ?`, op.RowID); err != nil {
					return err
				}
			}
			n++
		}
		return nil
	})
	return n, err
}

// CompleteOrder marks a ready order delivered and queues the change. It
// reports false when the order is already delivered or cancelled.
func (s *Store) CompleteOrder(ctx context.Context, id string) (bool, error) {
	return s.moveOrder(ctx, id, orders.Complete)
}

// CancelOrder marks a ready order cancelled and queues the change. The server
// turns the cancelled order into a tombstone, so it disappears on next pull.
func (s *Store) CancelOrder(ctx context.Context, id string) (bool, error) {
	return s.moveOrder(ctx, id, orders.Cancel)
}

func (s *Store) moveOrder(ctx context.Context, id string, move func(*orders.Order) bool) (bool, error) {
	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row, err := getOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		o := row.Order
		if !move(&o) {
			return nil
		}
		now := s.now()
		o.UpdatedAt = now
		if err := upsertOrder(ctx, tx, o); err != nil {
			return err
		}
		item, err := json.Marshal(o)
		if err != nil {
			return err
		}
		changed = true
		return enqueue(ctx, tx, Operation{
			Table:     orders.TableOrders,
			RowID:     o.ID,
			Kind:      OpReplace,
			Item:      item,
			Version:   o.Version,
			CreatedAt: now,
		})
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// AddCustomer stores a new customer locally and queues its insert. The id is
// minted here and kept by the server.
func (s *Store) AddCustomer(ctx context.Context, c orders.Customer) (orders.Customer, error) {
	if c.Name == "" {
		return orders.Customer{}, fmt.Errorf("%w: customer name is required", orders.ErrInvalid)
	}
	c.Meta = orders.Meta{ID: orders.NewID(), UpdatedAt: s.now()}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertCustomer(ctx, tx, c); err != nil {
			return err
		}
		item, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return enqueue(ctx, tx, Operation{
			Table:     orders.TableCustomers,
			RowID:     c.ID,
			Kind:      OpInsert,
			Item:      item,
			CreatedAt: c.UpdatedAt,
		})
	})
	if err != nil {
		return orders.Customer{}, err
	}
	return c, nil
}

// RemoveCustomer hides a customer locally and queues its deletion. A customer
// that was never pushed just disappears together with its queued insert.
func (s *Store) RemoveCustomer(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCustomer(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.Deleted {
			return fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
		}
		c.Deleted = true
		c.UpdatedAt = s.now()
		if err := upsertCustomer(ctx, tx, c); err != nil {
			return err
		}
		item, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return enqueue(ctx, tx, Operation{
			Table:     orders.TableCustomers,
			RowID:     c.ID,
			Kind:      OpDelete,
			Item:      item,
			Version:   c.Version,
			CreatedAt: c.UpdatedAt,
		})
	})
}
