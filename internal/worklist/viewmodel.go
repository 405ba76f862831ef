package worklist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/client"
	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"go.uber.org/zap"
)

// ErrRefused is returned when the status guard keeps an order where it is.
var ErrRefused = errors.New("cannot be changed")

const (
	MsgPushUnreachable = "Push: could not reach server"
	MsgPullUnreachable = "Pull: could not reach server"
)

type Syncer interface {
	PushAll(ctx context.Context) *client.PushResult
	PullAll(ctx context.Context) *client.PullResult
}

type OrderStore interface {
	Orders(ctx context.Context) ([]client.OrderRow, error)
	Order(ctx context.Context, id string) (client.OrderRow, error)
	CompleteOrder(ctx context.Context, id string) (bool, error)
	CancelOrder(ctx context.Context, id string) (bool, error)
}

type UserNames interface {
	UserName() string
	SetUserName(name string) error
}

// MainViewModel is the worklist window: the current user, the order list and
// the synchronise command. State changes happen on the dispatcher.
type MainViewModel struct {
	ui    *Dispatcher
	sync  Syncer
	store OrderStore
	users UserNames
	log   *zap.Logger

	// OnMessage is called on the dispatcher for errors the user must see.
	OnMessage func(msg string)

	mu              sync.RWMutex
	userName        string
	isSynchronising bool
	orders          []*OrderViewModel

	synchronise *Command
}

func NewMainViewModel(ui *Dispatcher, s Syncer, store OrderStore, users UserNames, log *zap.Logger) *MainViewModel {
	vm := &MainViewModel{ui: ui, sync: s, store: store, users: users, log: log, userName: users.UserName()}
	vm.synchronise = NewCommand(vm.runSynchronise, vm.CanSynchronise)
	return vm
}

func (vm *MainViewModel) UserName() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.userName
}

// SetUserName changes the user the client acts as. Empty names are ignored.
func (vm *MainViewModel) SetUserName(name string) {
	if name == "" {
		return
	}
	vm.mu.Lock()
	vm.userName = name
	vm.mu.Unlock()
	if err := vm.users.SetUserName(name); err != nil {
		vm.log.Warn("persist user name", zap.Error(err))
	}
}

func (vm *MainViewModel) IsSynchronising() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.isSynchronising
}

func (vm *MainViewModel) CanSynchronise() bool { return !vm.IsSynchronising() }

func (vm *MainViewModel) Orders() []*OrderViewModel {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]*OrderViewModel(nil), vm.orders...)
}

func (vm *MainViewModel) SynchroniseCommand() *Command { return vm.synchronise }

// Synchronise pushes then pulls and reloads the order list. A second call
// while one is running fails with ErrBusy or ErrCannotExecute.
func (vm *MainViewModel) Synchronise(ctx context.Context) (<-chan error, error) {
	return vm.synchronise.Start(ctx)
}

func (vm *MainViewModel) runSynchronise(ctx context.Context) error {
	vm.setSynchronising(true)
	defer vm.setSynchronising(false)

	switch res := vm.sync.PushAll(ctx); {
	case res == nil:
		vm.message(MsgPushUnreachable)
	case !res.IsSuccessful():
		vm.log.Warn("server rejected local changes", zap.Int("rejected", len(res.Failed)))
	}
	if vm.sync.PullAll(ctx) == nil {
		vm.message(MsgPullUnreachable)
	}
	return vm.Reload(ctx)
}

func (vm *MainViewModel) setSynchronising(v bool) {
	vm.ui.Invoke(func() {
		vm.mu.Lock()
		vm.isSynchronising = v
		vm.mu.Unlock()
	})
}

func (vm *MainViewModel) message(msg string) {
	vm.ui.Invoke(func() {
		if vm.OnMessage != nil {
			vm.OnMessage(msg)
		}
	})
}

// Reload reads the local orders off the loop and swaps them in on it.
func (vm *MainViewModel) Reload(ctx context.Context) error {
	rows, err := vm.store.Orders(ctx)
	if err != nil {
		return err
	}
	list := make([]*OrderViewModel, 0, len(rows))
	for _, r := range rows {
		list = append(list, newOrderViewModel(vm, r))
	}
	vm.ui.Invoke(func() {
		vm.mu.Lock()
		vm.orders = list
		vm.mu.Unlock()
	})
	return nil
}

// OrderViewModel is one row of the worklist.
type OrderViewModel struct {
	parent *MainViewModel

	mu           sync.RWMutex
	id           string
	customerName string
	createdAt    time.Time
	isCompleted  bool
	isCanceled   bool

	complete *Command
	cancel   *Command
}

func newOrderViewModel(parent *MainViewModel, r client.OrderRow) *OrderViewModel {
	o := &OrderViewModel{parent: parent}
	o.set(r)
	o.complete = NewCommand(o.runComplete, o.CanComplete)
	o.cancel = NewCommand(o.runCancel, o.CanCancel)
	return o
}

func (o *OrderViewModel) set(r client.OrderRow) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.id = r.ID
	o.customerName = r.CustomerName
	o.createdAt = r.CreatedAt
	o.isCompleted = r.Status == orders.StatusDelivered
	o.isCanceled = r.Status == orders.StatusCancelled
}

func (o *OrderViewModel) ID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.id
}

func (o *OrderViewModel) CustomerName() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.customerName
}

func (o *OrderViewModel) CreatedAt() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.createdAt
}

func (o *OrderViewModel) IsCompleted() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isCompleted
}

func (o *OrderViewModel) IsCanceled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isCanceled
}

func (o *OrderViewModel) CanComplete() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return !o.isCompleted && o.id != ""
}

func (o *OrderViewModel) CanCancel() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return !o.isCanceled && o.id != ""
}

func (o *OrderViewModel) CompleteCommand() *Command { return o.complete }
func (o *OrderViewModel) CancelCommand() *Command   { return o.cancel }

func (o *OrderViewModel) Complete(ctx context.Context) error { return o.complete.Execute(ctx) }
func (o *OrderViewModel) Cancel(ctx context.Context) error   { return o.cancel.Execute(ctx) }

func (o *OrderViewModel) runComplete(ctx context.Context) error {
	return o.apply(ctx, o.parent.store.CompleteOrder)
}

func (o *OrderViewModel) runCancel(ctx context.Context) error {
	return o.apply(ctx, o.parent.store.CancelOrder)
}

func (o *OrderViewModel) apply(ctx context.Context, action func(ctx context.Context, id string) (bool, error)) error {
	id := o.ID()
	changed, err := action(ctx, id)
	if err != nil {
		return err
	}
	r, err := o.parent.store.Order(ctx, id)
	if err != nil {
		return err
	}
	o.parent.ui.Invoke(func() { o.set(r) })
	if !changed {
		return fmt.Errorf("order %s is %s: %w", id, r.Status, ErrRefused)
	}
	return nil
}
