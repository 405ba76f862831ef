package orders

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
}

// System columns shared by every synced table. Version changes on every
// write and is what clients send back in If-Match.
type Meta struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   string    `json:"version"`
	Deleted   bool      `json:"deleted"`
}

type Customer struct {
	Meta
	Name       string `json:"name"`
	Street     string `json:"streetAndNumber"`
	PostalCode string `json:"postalCode"`
	City       string `json:"city"`
}

type Order struct {
	Meta
	CreatedAt      time.Time `json:"createdAt"`
	Status         Status    `json:"status"`
	AssignedUserID *string   `json:"assignedUserId,omitempty"`
	CustomerID     string    `json:"customerId"`
}

// CustomerStats is derived from Customer/Order on every read and never stored.
// ID is the customer id.
type CustomerStats struct {
	Meta
	OrdersCreatedInThisMonth int `json:"ordersCreatedInThisMonth"`
	WorkerCountForOrders     int `json:"workerCountForOrders"`
}

// NewID returns a time-ordered unique id (uuid v7).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewVersion returns a fresh opaque row version.
func NewVersion() string { return uuid.NewString() }

// AssignedTo reports whether o is assigned to userID.
func (o Order) AssignedTo(userID string) bool {
	return o.AssignedUserID != nil && *o.AssignedUserID == userID
}
