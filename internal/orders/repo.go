package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrGone            = errors.New("row has been deleted")
	ErrUnknownUser     = errors.New("unknown user")
	ErrAlreadyExists   = errors.New("row already exists")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrInvalid         = errors.New("invalid row")
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// ListQuery carries the delta-sync parameters of a table read.
type ListQuery struct {
	UpdatedSince   time.Time
	IncludeDeleted bool
	Top            int
	Skip           int
}

// Limit is the page size to apply: Top clamped to MaxPageSize, DefaultPageSize when unset.
func (q ListQuery) Limit() int {
	switch {
	case q.Top <= 0:
		return DefaultPageSize
	case q.Top > MaxPageSize:
		return MaxPageSize
	}
	return q.Top
}

type Repo struct {
	DB  *pgxpool.Pool
	Now func() time.Time
}

func (r *Repo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

const orderColumns = `o.id, o.created_at, o.status, o.assigned_user_id, o.customer_id, o.updated_at, o.version, o.deleted`

func scanOrder(s scanner) (Order, error) {
	var o Order
	var status string
	err := s.Scan(&o.ID, &o.CreatedAt, &status, &o.AssignedUserID, &o.CustomerID, &o.UpdatedAt, &o.Version, &o.Deleted)
	o.Status = Status(status)
	return o, err
}

const customerColumns = `c.id, c.name, c.street, c.postal_code, c.city, c.updated_at, c.version, c.deleted`

func scanCustomer(s scanner) (Customer, error) {
	var c Customer
	err := s.Scan(&c.ID, &c.Name, &c.Street, &c.PostalCode, &c.City, &c.UpdatedAt, &c.Version, &c.Deleted)
	return c, err
}

// mapPgErr turns constraint violations into caller errors.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return fmt.Errorf("%w: %s", ErrInvalid, pgErr.ConstraintName)
		case "23505":
			return ErrAlreadyExists
		}
	}
	return err
}

// ---- users & authorization ----

func (r *Repo) UserByName(ctx context.Context, name string) (User, error) {
	var u User
	err := r.DB.QueryRow(ctx, `SELECT id, user_name FROM users WHERE user_name=$1`, name).Scan(&u.ID, &u.UserName)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("%w: %q", ErrUnknownUser, name)
	}
	return u, err
}

// Authorize is the coarse write check: the caller needs at least one assigned
// order, in any status.
func (r *Repo) Authorize(ctx context.Context, a Access) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE assigned_user_id=$1)`, a.UserID).Scan(&ok)
	return ok, err
}

// ---- orders ----

func (r *Repo) ListOrders(ctx context.Context, a Access, q ListQuery) ([]Order, error) {
	view, uid := a.OrderView(1)
	where := "(" + view + ")"
	if q.IncludeDeleted {
		// tombstones of the caller's orders must reach the client even though
		// Cancelled is outside the view
		where = "(" + where + " OR (o.deleted AND o.assigned_user_id = $1))"
	} else {
		where += " AND NOT o.deleted"
	}
	args := []any{uid}
	if !q.UpdatedSince.IsZero() {
		args = append(args, q.UpdatedSince)
		where += fmt.Sprintf(" AND o.updated_at > $%d", len(args))
	}
	args = append(args, q.Limit(), q.Skip)
	sql := fmt.Sprintf(`SELECT %s FROM orders o WHERE %s ORDER BY o.updated_at, o.id LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))

	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) GetOrder(ctx context.Context, a Access, id string) (Order, error) {
	o, err := getOrder(ctx, r.DB, id, false)
	if err != nil {
		return Order{}, err
	}
	return o, checkOrderInView(a, o)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getOrder(ctx context.Context, db queryRower, id string, forUpdate bool) (Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders o WHERE o.id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(db.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// A tombstone stays reachable for its assignee so a client can observe the
// deletion; anything else outside the view is reported as missing.
func checkOrderInView(a Access, o Order) error {
	if o.Deleted && o.AssignedTo(a.UserID) {
		return ErrGone
	}
	if !a.OrderVisible(o) {
		return ErrNotFound
	}
	return nil
}

// InsertOrder stores a new order. Server-owned fields (id when empty,
// createdAt when zero, updatedAt, version) are filled here.
func (r *Repo) InsertOrder(ctx context.Context, o Order) (Order, error) {
	if o.ID == "" {
		o.ID = NewID()
	}
	if o.Status == "" {
		o.Status = StatusReady
	}
	if !o.Status.Valid() || o.CustomerID == "" {
		return Order{}, ErrInvalid
	}
	now := r.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Version = NewVersion()
	o.Deleted = o.Status == StatusCancelled

	ct, err := r.DB.Exec(ctx, `
		INSERT INTO orders(id, created_at, status, assigned_user_id, customer_id, updated_at, version, deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.CreatedAt, string(o.Status), o.AssignedUserID, o.CustomerID, o.UpdatedAt, o.Version, o.Deleted)
	if err != nil {
		return Order{}, mapPgErr(err)
	}
	if ct.RowsAffected() == 0 {
		return Order{}, ErrAlreadyExists
	}
	return o, nil
}

// ReplaceOrder applies a full update. When ifMatch is set and differs from the
// stored version the current row is returned with ErrVersionMismatch.
// An order that lands in Cancelled is tombstoned in the same transaction.
func (r *Repo) ReplaceOrder(ctx context.Context, a Access, o Order, ifMatch string) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := getOrder(ctx, tx, o.ID, true)
	if err != nil {
		return Order{}, err
	}
	if err := checkOrderInView(a, cur); err != nil {
		return Order{}, err
	}
	if ifMatch != "" && ifMatch != cur.Version {
		return cur, ErrVersionMismatch
	}
	if o.Status == "" {
		o.Status = cur.Status
	}
	if err := CheckTransition(cur.Status, o.Status); err != nil {
		return cur, err
	}
	if o.CustomerID == "" {
		o.CustomerID = cur.CustomerID
	}

	o.CreatedAt = cur.CreatedAt
	o.UpdatedAt = r.now()
	o.Version = NewVersion()
	o.Deleted = o.Status == StatusCancelled

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, assigned_user_id=$3, customer_id=$4, updated_at=$5, version=$6, deleted=$7
		WHERE id=$1`,
		o.ID, string(o.Status), o.AssignedUserID, o.CustomerID, o.UpdatedAt, o.Version, o.Deleted); err != nil {
		return Order{}, mapPgErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

// DeleteOrder soft-deletes the order.
func (r *Repo) DeleteOrder(ctx context.Context, a Access, id, ifMatch string) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := getOrder(ctx, tx, id, true)
	if err != nil {
		return Order{}, err
	}
	if err := checkOrderInView(a, cur); err != nil {
		return Order{}, err
	}
	if ifMatch != "" && ifMatch != cur.Version {
		return cur, ErrVersionMismatch
	}
	cur.Deleted = true
	cur.UpdatedAt = r.now()
	cur.Version = NewVersion()
	if _, err := tx.Exec(ctx, `UPDATE orders SET deleted=TRUE, updated_at=$2, version=$3 WHERE id=$1`,
		id, cur.UpdatedAt, cur.Version); err != nil {
		return Order{}, err
	}
	return cur, tx.Commit(ctx)
}

// ---- customers ----

func (r *Repo) ListCustomers(ctx context.Context, a Access, q ListQuery) ([]Customer, error) {
	view, uid := a.CustomerView(1)
	where := "(" + view + ")"
	if !q.IncludeDeleted {
		where += " AND NOT c.deleted"
	}
	args := []any{uid}
	if !q.UpdatedSince.IsZero() {
		args = append(args, q.UpdatedSince)
		where += fmt.Sprintf(" AND c.updated_at > $%d", len(args))
	}
	args = append(args, q.Limit(), q.Skip)
	sql := fmt.Sprintf(`SELECT %s FROM customers c WHERE %s ORDER BY c.updated_at, c.id LIMIT $%d OFFSET $%d`,
		customerColumns, where, len(args)-1, len(args))

	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func getCustomer(ctx context.Context, db queryRower, a Access, id string, forUpdate bool) (Customer, error) {
	sql := `SELECT ` + customerColumns + ` FROM customers c WHERE c.id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	c, err := scanCustomer(db.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, err
	}
	assignees, err := customerAssignees(ctx, db, id)
	if err != nil {
		return Customer{}, err
	}
	if err := checkCustomerInView(a, c, assignees); err != nil {
		if errors.Is(err, ErrGone) {
			return c, err
		}
		return Customer{}, err
	}
	return c, nil
}

func customerAssignees(ctx context.Context, db queryRower, customerID string) ([]string, error) {
	var ids []string
	err := db.QueryRow(ctx, `
		SELECT COALESCE(array_agg(DISTINCT assigned_user_id ORDER BY assigned_user_id)
			FILTER (WHERE assigned_user_id IS NOT NULL), '{}')
		FROM orders WHERE customer_id=$1`, customerID).Scan(&ids)
	return ids, err
}

// A customer is reachable while any of its orders is assigned to the caller.
// A deleted one then answers as gone.
func checkCustomerInView(a Access, c Customer, assignees []string) error {
	customerOrders := make([]Order, len(assignees))
	for i := range assignees {
		customerOrders[i].AssignedUserID = &assignees[i]
	}
	if !a.CustomerVisible(customerOrders) {
		return ErrNotFound
	}
	if c.Deleted {
		return ErrGone
	}
	return nil
}

func (r *Repo) GetCustomer(ctx context.Context, a Access, id string) (Customer, error) {
	return getCustomer(ctx, r.DB, a, id, false)
}

func (r *Repo) InsertCustomer(ctx context.Context, c Customer) (Customer, error) {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Name == "" {
		return Customer{}, ErrInvalid
	}
	c.UpdatedAt = r.now()
	c.Version = NewVersion()
	c.Deleted = false

	ct, err := r.DB.Exec(ctx, `
		INSERT INTO customers(id, name, street, postal_code, city, updated_at, version, deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.Name, c.Street, c.PostalCode, c.City, c.UpdatedAt, c.Version)
	if err != nil {
		return Customer{}, mapPgErr(err)
	}
	if ct.RowsAffected() == 0 {
		return Customer{}, ErrAlreadyExists
	}
	return c, nil
}

func (r *Repo) ReplaceCustomer(ctx context.Context, a Access, c Customer, ifMatch string) (Customer, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Customer{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := getCustomer(ctx, tx, a, c.ID, true)
	if err != nil {
		return Customer{}, err
	}
	if ifMatch != "" && ifMatch != cur.Version {
		return cur, ErrVersionMismatch
	}
	c.UpdatedAt = r.now()
	c.Version = NewVersion()
	c.Deleted = false
	if _, err := tx.Exec(ctx, `
		UPDATE customers SET name=$2, street=$3, postal_code=$4, city=$5, updated_at=$6, version=$7
		WHERE id=$1`,
		c.ID, c.Name, c.Street, c.PostalCode, c.City, c.UpdatedAt, c.Version); err != nil {
		return Customer{}, err
	}
	return c, tx.Commit(ctx)
}

func (r *Repo) DeleteCustomer(ctx context.Context, a Access, id, ifMatch string) (Customer, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Customer{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := getCustomer(ctx, tx, a, id, true)
	if err != nil {
		return Customer{}, err
	}
	if ifMatch != "" && ifMatch != cur.Version {
		return cur, ErrVersionMismatch
	}
	cur.Deleted = true
	cur.UpdatedAt = r.now()
	cur.Version = NewVersion()
	if _, err := tx.Exec(ctx, `UPDATE customers SET deleted=TRUE, updated_at=$2, version=$3 WHERE id=$1`,
		id, cur.UpdatedAt, cur.Version); err != nil {
		return Customer{}, err
	}
	return cur, tx.Commit(ctx)
}

// CustomerUserIDs lists the distinct workers assigned to the customer's orders.
func (r *Repo) CustomerUserIDs(ctx context.Context, customerID string) ([]string, error) {
	return customerAssignees(ctx, r.DB, customerID)
}

// ---- stats ----

// StatsSource loads the rows ComputeStats works on: every customer and every
// order, read in one snapshot.
func (r *Repo) StatsSource(ctx context.Context) ([]Customer, []Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT `+customerColumns+` FROM customers c WHERE NOT c.deleted ORDER BY c.id`)
	if err != nil {
		return nil, nil, err
	}
	var cs []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			rows.Close()
			return nil, nil, err
		}
		cs = append(cs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = tx.Query(ctx, `SELECT `+orderColumns+` FROM orders o`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var all []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, o)
	}
	return cs, all, rows.Err()
}
