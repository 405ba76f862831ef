package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/ariefcatur/go-worklist-sync/internal/client"
	"github.com/ariefcatur/go-worklist-sync/internal/logx"
	"github.com/ariefcatur/go-worklist-sync/internal/worklist"
	"go.uber.org/zap"
)

// app wires the client pieces for one command invocation.
type app struct {
	settings client.Settings
	users    *client.UserNameStore
	store    *client.Store
	tables   *client.TableClient
	log      *zap.Logger
	ui       *worklist.Dispatcher
	vm       *worklist.MainViewModel
	stop     context.CancelFunc
}

func openApp(ctx context.Context, opts *RootOptions, out io.Writer) (*app, error) {
	settings, err := client.LoadSettings(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	store, err := client.Open(settings.Database)
	if err != nil {
		return nil, err
	}

	log := logx.NewConsole(opts.Verbose)
	users := client.NewUserNameStore(opts.ConfigPath, settings)
	tables := client.NewTableClient(settings.Endpoint, users.UserName, settings.Timeout, log)

	uiCtx, stop := context.WithCancel(ctx)
	ui := worklist.NewDispatcher()
	go ui.Run(uiCtx)

	vm := worklist.NewMainViewModel(ui, &client.SyncAction{Store: store, Tables: tables, Log: log}, store, users, log)
	vm.OnMessage = func(msg string) { fmt.Fprintf(out, "Datasync error: %s\n", msg) }

	return &app{
		settings: settings,
		users:    users,
		store:    store,
		tables:   tables,
		log:      log,
		ui:       ui,
		vm:       vm,
		stop:     stop,
	}, nil
}

func (a *app) Close() {
	a.stop()
	_ = a.log.Sync()
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
}
