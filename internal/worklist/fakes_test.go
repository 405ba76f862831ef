package worklist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/client"
	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSyncer struct {
	mu       sync.Mutex
	pushDown bool
	pullDown bool
	rejected int
	hold     chan struct{}
	calls    []string
}

func (f *fakeSyncer) PushAll(context.Context) *client.PushResult {
	if f.hold != nil {
		<-f.hold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "push")
	if f.pushDown {
		return nil
	}
	return &client.PushResult{Failed: make([]client.PushFailure, f.rejected)}
}

func (f *fakeSyncer) PullAll(context.Context) *client.PullResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "pull")
	if f.pullDown {
		return nil
	}
	return &client.PullResult{}
}

type fakeStore struct {
	mu   sync.Mutex
	rows []client.OrderRow
}

func row(id, customer string, created time.Time, status orders.Status) client.OrderRow {
	return client.OrderRow{
		Order: orders.Order{
			Meta:      orders.Meta{ID: id},
			CreatedAt: created,
			Status:    status,
		},
		CustomerName: customer,
	}
}

func demoRows() []client.OrderRow {
	return []client.OrderRow{
		row("o-1001", "Baeckerei Huber", time.Date(2025, 3, 8, 9, 15, 0, 0, time.UTC), orders.StatusReady),
		row("o-1002", "Blumen Krause", time.Date(2025, 3, 7, 14, 30, 0, 0, time.UTC), orders.StatusDelivered),
		row("o-1003", "Blumen Krause", time.Date(2025, 2, 26, 8, 0, 0, 0, time.UTC), orders.StatusCancelled),
	}
}

func (s *fakeStore) Orders(context.Context) ([]client.OrderRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.OrderRow(nil), s.rows...), nil
}

func (s *fakeStore) Order(_ context.Context, id string) (client.OrderRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return client.OrderRow{}, client.ErrOrderNotFound
}

func (s *fakeStore) move(id string, fn func(*orders.Order) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id {
			return fn(&s.rows[i].Order), nil
		}
	}
	return false, client.ErrOrderNotFound
}

func (s *fakeStore) CompleteOrder(_ context.Context, id string) (bool, error) {
	return s.move(id, orders.Complete)
}

func (s *fakeStore) CancelOrder(_ context.Context, id string) (bool, error) {
	return s.move(id, orders.Cancel)
}

type fakeUsers struct {
	name  string
	saved []string
}

func (u *fakeUsers) UserName() string { return u.name }

func (u *fakeUsers) SetUserName(name string) error {
	u.name = name
	u.saved = append(u.saved, name)
	return nil
}

type fixture struct {
	vm       *MainViewModel
	syncer   *fakeSyncer
	store    *fakeStore
	users    *fakeUsers
	logs     *observer.ObservedLogs
	mu       sync.Mutex
	messages []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ui := NewDispatcher()
	go ui.Run(ctx)

	f := &fixture{syncer: &fakeSyncer{}, store: &fakeStore{rows: demoRows()}, users: &fakeUsers{name: "David"}}
	core, logs := observer.New(zap.WarnLevel)
	f.logs = logs
	f.vm = NewMainViewModel(ui, f.syncer, f.store, f.users, zap.New(core))
	f.vm.OnMessage = func(msg string) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.messages = append(f.messages, msg)
	}
	return f
}

func (f *fixture) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}
