// Package feed supplies broker snapshots to the sync poller. DirFeed reads
// them from a directory tree, one subdirectory per tenant.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Snapshot file names inside a tenant directory.
const (
	PositionsFile = "positions.json"
	OrdersFile    = "orders.json"
)

// Snapshot is one tenant's broker state at a point in time.
type Snapshot struct {
	Positions []domain.PositionView
	Orders    []domain.OrderFill
}

// Source lists tenants and loads their snapshots.
type Source interface {
	Tenants(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, tenantID string) (Snapshot, error)
}

// DirFeed reads <dir>/<tenant>/positions.json and orders.json. A tenant
// directory without positions.json has no snapshot and is skipped, so a
// half-written export never closes every open position. orders.json is
// optional.
type DirFeed struct {
	dir string
}

// NewDirFeed creates a DirFeed rooted at dir.
func NewDirFeed(dir string) *DirFeed {
	return &DirFeed{dir: dir}
}

// Tenants returns the names of the tenant directories that hold a position
// snapshot, sorted.
func (d *DirFeed) Tenants(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("feed: read dir %s: %w", d.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		if _, err := os.Stat(filepath.Join(d.dir, e.Name(), PositionsFile)); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	slices.Sort(ids)
	return ids, nil
}

// Snapshot loads one tenant's files. A missing positions.json is reported
// as domain.ErrNotFound.
func (d *DirFeed) Snapshot(_ context.Context, tenantID string) (Snapshot, error) {
	if !fs.ValidPath(tenantID) || filepath.Base(tenantID) != tenantID {
		return Snapshot{}, &domain.ValidationError{Field: "tenant_id", Reason: "not a directory name", Ref: tenantID}
	}
	root := filepath.Join(d.dir, tenantID)

	var snap Snapshot
	if err := readJSON(filepath.Join(root, PositionsFile), &snap.Positions); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, fmt.Errorf("feed: %s: %w", tenantID, domain.ErrNotFound)
		}
		return Snapshot{}, err
	}
	if err := readJSON(filepath.Join(root, OrdersFile), &snap.Orders); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, err
	}
	return snap, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("feed: decode %s: %w", path, err)
	}
	return nil
}

var _ Source = (*DirFeed)(nil)
