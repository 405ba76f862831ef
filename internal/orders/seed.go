package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/postgres"
	"github.com/jackc/pgx/v5"
)

// SeedData is the fixed demo dataset: two workers, two customers, and for
// each customer one order created at now and one ten days earlier.
type SeedData struct {
	Users     []User
	Customers []Customer
	Orders    []Order
}

func DemoData(now time.Time) SeedData {
	david := User{ID: NewID(), UserName: "David"}
	anna := User{ID: NewID(), UserName: "Anna"}

	meta := func() Meta { return Meta{ID: NewID(), UpdatedAt: now, Version: NewVersion()} }
	c1 := Customer{Meta: meta(), Name: "Bäckerei Huber", Street: "Hauptstraße 12", PostalCode: "80331", City: "München"}
	c2 := Customer{Meta: meta(), Name: "Blumen Krause", Street: "Lindenallee 3", PostalCode: "10115", City: "Berlin"}

	order := func(c Customer, u User, created time.Time) Order {
		uid := u.ID
		return Order{Meta: meta(), CreatedAt: created, Status: StatusReady, AssignedUserID: &uid, CustomerID: c.ID}
	}
	tenDaysAgo := now.AddDate(0, 0, -10)

	return SeedData{
		Users:     []User{david, anna},
		Customers: []Customer{c1, c2},
		Orders: []Order{
			order(c1, david, now),
			order(c1, anna, tenDaysAgo),
			order(c2, anna, now),
			order(c2, david, tenDaysAgo),
		},
	}
}

// Seed writes d in one transaction.
func (r *Repo) Seed(ctx context.Context, d SeedData) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, u := range d.Users {
		batch.Queue(`INSERT INTO users(id, user_name) VALUES ($1,$2)`, u.ID, u.UserName)
	}
	for _, c := range d.Customers {
		batch.Queue(`INSERT INTO customers(id, name, street, postal_code, city, updated_at, version, deleted)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			c.ID, c.Name, c.Street, c.PostalCode, c.City, c.UpdatedAt, c.Version, c.Deleted)
	}
	for _, o := range d.Orders {
		batch.Queue(`INSERT INTO orders(id, created_at, status, assigned_user_id, customer_id, updated_at, version, deleted)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			o.ID, o.CreatedAt, string(o.Status), o.AssignedUserID, o.CustomerID, o.UpdatedAt, o.Version, o.Deleted)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapPgErr(err)
	}
	return tx.Commit(ctx)
}

// ResetDemo drops and recreates the schema, then seeds DemoData(now).
func (r *Repo) ResetDemo(ctx context.Context, now time.Time) error {
	if err := postgres.Reset(ctx, r.DB); err != nil {
		return err
	}
	return r.Seed(ctx, DemoData(now))
}
