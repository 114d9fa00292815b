package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/model"
)

// Memory is a Catalog held in a map. Rows are stored sealed so it behaves
// like the Postgres catalog, including unreadable rows after a key change.
type Memory struct {
	codec FieldCodec

	mu   sync.RWMutex
	rows map[string]*Row
}

var _ Catalog = (*Memory)(nil)

// NewMemory constructs an empty Memory catalog.
func NewMemory(codec FieldCodec) *Memory {
	return &Memory{codec: codec, rows: make(map[string]*Row)}
}

func (m *Memory) Create(ctx context.Context, a *model.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	row, err := Seal(m.codec, a)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[a.ID]; ok {
		return fmt.Errorf("artifact %s: %w", a.ID, errs.ErrDuplicateID)
	}
	m.rows[a.ID] = &row
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*model.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	row, ok := m.rows[id]
	var cp Row
	if ok {
		cp = *row
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", id, errs.ErrNotFound)
	}
	return Open(m.codec, cp)
}

func (m *Memory) IncrementDownloadCount(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return 0, fmt.Errorf("artifact %s: %w", id, errs.ErrNotFound)
	}
	row.DownloadCount++
	return row.DownloadCount, nil
}

func (m *Memory) List(ctx context.Context) (*Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	rows := make([]Row, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, *r)
	}
	m.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	return OpenAll(m.codec, rows), nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("artifact %s: %w", id, errs.ErrNotFound)
	}
	delete(m.rows, id)
	return nil
}

// PutRow stores an already sealed row as-is. Tests use it to plant rows
// written under a different key.
func (m *Memory) PutRow(r Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[r.ID] = &r
}
