// Package archive persists finished backtest reports to cold storage.
// A Backend is a flat key/value blob store; the Archiver layers the
// report key scheme and JSON encoding on top of it.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/quantlark/tracer/internal/backtest"
	"github.com/quantlark/tracer/internal/core"
)

// Backend is a flat blob store keyed by slash-separated paths.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Archiver stores reports under reports/<SYMBOL>/<interval>/<runID>.json.
type Archiver struct {
	backend Backend
}

// New creates an Archiver on the given backend.
func New(backend Backend) *Archiver {
	return &Archiver{backend: backend}
}

func reportKey(symbol, interval, runID string) string {
	return fmt.Sprintf("reports/%s/%s/%s.json", strings.ToUpper(symbol), interval, runID)
}

// SaveReport writes the report as indented JSON and returns its key.
func (a *Archiver) SaveReport(ctx context.Context, runID string, rep *backtest.Report) (string, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", core.WrapError(core.ErrStorageFailed, err)
	}
	key := reportKey(rep.Symbol, rep.Interval, runID)
	if err := a.backend.Put(ctx, key, data); err != nil {
		return "", core.WrapError(core.ErrStorageFailed, err)
	}
	return key, nil
}

// LoadReport reads back an archived report.
func (a *Archiver) LoadReport(ctx context.Context, symbol, interval, runID string) (*backtest.Report, error) {
	key := reportKey(symbol, interval, runID)
	ok, err := a.backend.Exists(ctx, key)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	if !ok {
		return nil, core.WrapErrorf(core.ErrNoData, "no archived report at %s", key)
	}

	data, err := a.backend.Get(ctx, key)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	var rep backtest.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	return &rep, nil
}

// ListReports returns the run IDs archived for a symbol/interval, sorted.
func (a *Archiver) ListReports(ctx context.Context, symbol, interval string) ([]string, error) {
	prefix := fmt.Sprintf("reports/%s/%s/", strings.ToUpper(symbol), interval)
	keys, err := a.backend.List(ctx, prefix)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}

	var ids []string
	for _, k := range keys {
		name := k[strings.LastIndex(k, "/")+1:]
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
