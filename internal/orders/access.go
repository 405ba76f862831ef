package orders

import "fmt"

// Statuses a worker still sees in their worklist. Cancelled orders drop out.
var visibleStatuses = map[Status]bool{
	StatusReady:     true,
	StatusDelivered: true,
}

// Access is the per-request row filter for the caller identified by UserID.
// The in-memory predicates and the SQL fragments must stay equivalent.
type Access struct {
	UserID string
}

func (a Access) OrderVisible(o Order) bool {
	return o.AssignedTo(a.UserID) && visibleStatuses[o.Status]
}

// CustomerVisible reports whether any of the customer's orders is assigned to
// the caller, regardless of status.
func (a Access) CustomerVisible(customerOrders []Order) bool {
	for _, o := range customerOrders {
		if o.AssignedTo(a.UserID) {
			return true
		}
	}
	return false
}

// OrderView returns the SQL form of OrderVisible over alias o, binding the
// caller id to placeholder $p.
func (a Access) OrderView(p int) (string, any) {
	return fmt.Sprintf("o.assigned_user_id = $%d AND o.status IN ('%s','%s')",
		p, StatusReady, StatusDelivered), a.UserID
}

// CustomerView returns the SQL form of CustomerVisible over alias c.
func (a Access) CustomerView(p int) (string, any) {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM orders x WHERE x.customer_id = c.id AND x.assigned_user_id = $%d)", p), a.UserID
}
