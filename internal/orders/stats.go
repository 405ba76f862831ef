package orders

import (
	"fmt"
	"sort"
	"time"
)

// MonthStart is 00:00 on the first day of now's month, in now's location.
func MonthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}

// ComputeStats builds the per-customer projection from the current rows. An
// order created exactly at MonthStart belongs to the month. Deleted customers
// are skipped; tombstoned orders still count since the row exists. Output is
// sorted by customer id.
func ComputeStats(customers []Customer, all []Order, now time.Time) []CustomerStats {
	start := MonthStart(now)

	byCustomer := make(map[string][]Order, len(customers))
	for _, o := range all {
		byCustomer[o.CustomerID] = append(byCustomer[o.CustomerID], o)
	}

	out := make([]CustomerStats, 0, len(customers))
	for _, c := range customers {
		if c.Deleted {
			continue
		}
		s := CustomerStats{Meta: Meta{ID: c.ID, UpdatedAt: now}}
		workers := map[string]struct{}{}
		for _, o := range byCustomer[c.ID] {
			if !o.CreatedAt.Before(start) {
				s.OrdersCreatedInThisMonth++
			}
			if o.AssignedUserID != nil {
				workers[*o.AssignedUserID] = struct{}{}
			}
		}
		s.WorkerCountForOrders = len(workers)
		s.Version = statsVersion(s)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func statsVersion(s CustomerStats) string {
	return fmt.Sprintf("%d.%d", s.OrdersCreatedInThisMonth, s.WorkerCountForOrders)
}
