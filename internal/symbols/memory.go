package symbols

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRepository keeps the catalog in process. It backs the catalog when
// Postgres is disabled.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]Symbol
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]Symbol)}
}

func (r *MemoryRepository) Count(context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.byID)), nil
}

func (r *MemoryRepository) Insert(_ context.Context, symbols []Symbol) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range symbols {
		if _, ok := r.byID[s.Code]; !ok {
			r.byID[s.Code] = s
		}
	}
	return nil
}

func (r *MemoryRepository) Upsert(_ context.Context, symbols []Symbol) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range symbols {
		r.byID[s.Code] = s
	}
	return nil
}

func (r *MemoryRepository) List(_ context.Context, req PageRequest) ([]Symbol, int64, error) {
	r.mu.RLock()
	all := make([]Symbol, 0, len(r.byID))
	for _, s := range r.byID {
		all = append(all, s)
	}
	r.mu.RUnlock()

	field := func(s Symbol) string {
		if req.SortBy == SortByCode {
			return s.Code
		}
		return s.Name
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := field(all[i]), field(all[j])
		if a == b {
			a, b = all[i].Code, all[j].Code
		}
		if req.SortDirection == SortDesc {
			return strings.Compare(a, b) > 0
		}
		return strings.Compare(a, b) < 0
	})

	total := int64(len(all))
	from := req.Offset()
	if from < 0 || from >= len(all) {
		return nil, total, nil
	}
	to := from + req.Size
	if to > len(all) {
		to = len(all)
	}
	return all[from:to], total, nil
}
