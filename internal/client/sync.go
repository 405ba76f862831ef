package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"go.uber.org/zap"
)

const pullPageSize = 100

var (
	pushTables = []string{orders.TableOrders, orders.TableCustomers}
	pullTables = []string{orders.TableOrders, orders.TableCustomers, orders.TableStats}
)

type PushFailure struct {
	Op   Operation
	Code int
}

type PushResult struct {
	Completed int
	Failed    []PushFailure
}

func (r *PushResult) IsSuccessful() bool { return len(r.Failed) == 0 }

type PullResult struct {
	Additions    int
	Replacements int
	Deletions    int
}

func (r *PullResult) count(o applyOutcome) {
	switch o {
	case applyAdded:
		r.Additions++
	case applyReplaced:
		r.Replacements++
	case applyDeleted:
		r.Deletions++
	}
}

// SyncAction pushes queued local changes and pulls server changes for a fixed
// set of tables. Both directions report nil when the server could not be
// reached; retrying is left to the caller.
type SyncAction struct {
	Store  *Store
	Tables *TableClient
	Log    *zap.Logger
}

func (a *SyncAction) PushAll(ctx context.Context) *PushResult {
	res, err := a.push(ctx)
	if err != nil {
		a.Log.Warn("push failed", zap.Error(err))
		return nil
	}
	a.Log.Info("push done", zap.Int("completed", res.Completed), zap.Int("failed", len(res.Failed)))
	return res
}

func (a *SyncAction) PullAll(ctx context.Context) *PullResult {
	res, err := a.pull(ctx)
	if err != nil {
		a.Log.Warn("pull failed", zap.Error(err))
		return nil
	}
	a.Log.Info("pull done",
		zap.Int("additions", res.Additions),
		zap.Int("replacements", res.Replacements),
		zap.Int("deletions", res.Deletions))
	return res
}

func (a *SyncAction) push(ctx context.Context) (*PushResult, error) {
	res := &PushResult{}
	for _, table := range pushTables {
		ops, err := a.Store.Operations(ctx, table)
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			saved, err := a.send(ctx, op)
			var se *StatusError
			switch {
			case err == nil:
				if err := a.Store.CompleteOperation(ctx, op, saved); err != nil {
					return nil, err
				}
				res.Completed++
			case errors.As(err, &se) && !se.Fatal():
				var current json.RawMessage
				if se.Code == http.StatusPreconditionFailed {
					current = se.Body
				}
				if err := a.Store.FailOperation(ctx, op, se, current); err != nil {
					return nil, err
				}
				a.Log.Warn("push rejected",
					zap.String("table", op.Table), zap.String("id", op.RowID), zap.Int("status", se.Code))
				res.Failed = append(res.Failed, PushFailure{Op: op, Code: se.Code})
			default:
				return nil, err
			}
		}
	}
	return res, nil
}

func (a *SyncAction) send(ctx context.Context, op Operation) (json.RawMessage, error) {
	switch op.Kind {
	case OpInsert:
		return a.Tables.Insert(ctx, op.Table, op.Item, op.RowID)
	case OpReplace:
		return a.Tables.Replace(ctx, op.Table, op.RowID, op.Version, op.Item)
	case OpDelete:
		return nil, a.Tables.Delete(ctx, op.Table, op.RowID, op.Version)
	}
	return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
}

func (a *SyncAction) pull(ctx context.Context) (*PullResult, error) {
	res := &PullResult{}
	for _, table := range pullTables {
		var err error
		if table == orders.TableStats {
			err = a.pullStats(ctx, res)
		} else {
			err = a.pullTable(ctx, table, res)
		}
		if err != nil {
			return nil, fmt.Errorf("pull %s: %w", table, err)
		}
	}
	return res, nil
}

func (a *SyncAction) pullTable(ctx context.Context, table string, res *PullResult) error {
	since, err := a.Store.DeltaToken(ctx, table)
	if err != nil {
		return err
	}
	for skip := 0; ; skip += pullPageSize {
		items, err := a.Tables.List(ctx, table, since, skip, pullPageSize)
		if err != nil {
			return err
		}
		if err := a.Store.ApplyPage(ctx, table, items, res); err != nil {
			return err
		}
		if len(items) < pullPageSize {
			return nil
		}
	}
}

func (a *SyncAction) pullStats(ctx context.Context, res *PullResult) error {
	var all []json.RawMessage
	for skip := 0; ; skip += pullPageSize {
		items, err := a.Tables.List(ctx, orders.TableStats, time.Time{}, skip, pullPageSize)
		if err != nil {
			return err
		}
		all = append(all, items...)
		if len(items) < pullPageSize {
			break
		}
	}
	return a.Store.ReplaceStats(ctx, all, res)
}
