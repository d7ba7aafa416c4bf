package calls

import (
	"context"
	"time"
)

// Repository is the persistence contract for Call records.
//
// Every mutation addresses a single row by id. Implementations must make
// TransitionStatus and Finalize conditional updates so concurrent webhooks
// never need an in-process lock.
type Repository interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)

	// List returns calls ordered most-recent-first.
	List(ctx context.Context, f ListFilter) ([]Call, error)

	SetProviderCallID(ctx context.Context, id, providerCallID string, at time.Time) error

	// TransitionStatus moves id from -> to only if the stored status still equals from.
	// It reports whether the row was updated.
	TransitionStatus(ctx context.Context, id string, from, to CallStatus, at time.Time) (bool, error)

	// Finalize writes a terminal status and result only if the call is not terminal yet.
	// It reports whether the row was updated (first write wins).
	Finalize(ctx context.Context, id string, to CallStatus, result DetectionResult, at time.Time) (bool, error)

	DeleteAll(ctx context.Context) (int64, error)
}

type ListFilter struct {
	Limit  int
	Offset int

	Statuses []CallStatus
	Strategy Strategy

	// UpdatedBefore, when set, selects rows last touched before this instant.
	UpdatedBefore time.Time
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

func (f ListFilter) withDefaults() ListFilter {
	out := f
	if out.Limit <= 0 {
		out.Limit = DefaultListLimit
	}
	if out.Limit > MaxListLimit {
		out.Limit = MaxListLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}

func statusStrings(in []CallStatus) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

// Lister is the read side of Repository.
type Lister interface {
	List(ctx context.Context, f ListFilter) ([]Call, error)
}

// ListAll pages through every call matching f, most recent first. Limit and
// Offset in f are ignored.
func ListAll(ctx context.Context, r Lister, f ListFilter) ([]Call, error) {
	f.Limit = MaxListLimit
	f.Offset = 0

	var out []Call
	for {
		page, err := r.List(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < f.Limit {
			return out, nil
		}
		f.Offset += len(page)
	}
}
