package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository for tests and the memory driver.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{calls: map[string]Call{}} }

var _ Repository = (*MemoryRepo)(nil)

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	if c.ID == "" {
		return errors.New("calls: id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.calls[c.ID]; exists {
		return errors.New("calls: duplicate id")
	}
	r.calls[c.ID] = cloneCall(c)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]Call, error) {
	f = f.withDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		if !matchesFilter(c, f) {
			continue
		}
		out = append(out, cloneCall(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset >= len(out) {
		return []Call{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) SetProviderCallID(ctx context.Context, id, providerCallID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	c.ProviderCallID = providerCallID
	c.UpdatedAt = at
	r.calls[id] = c
	return nil
}

func (r *MemoryRepo) TransitionStatus(ctx context.Context, id string, from, to CallStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = at
	r.calls[id] = c
	return true, nil
}

func (r *MemoryRepo) Finalize(ctx context.Context, id string, to CallStatus, result DetectionResult, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status.Terminal() {
		return false, nil
	}
	res := result
	c.Status = to
	c.Result = &res
	c.UpdatedAt = at
	r.calls[id] = c
	return true, nil
}

func (r *MemoryRepo) DeleteAll(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.calls))
	r.calls = map[string]Call{}
	return n, nil
}

func matchesFilter(c Call, f ListFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if c.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Strategy != "" && c.Strategy != f.Strategy {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !c.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

func cloneCall(c Call) Call {
	out := c
	if c.Result != nil {
		res := *c.Result
		if c.Result.DetectedPatterns != nil {
			res.DetectedPatterns = append([]string(nil), c.Result.DetectedPatterns...)
		}
		out.Result = &res
	}
	return out
}
