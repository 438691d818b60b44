package shareapi

import (
	"context"
	"sort"
	"sync"

	"github.com/unistay/roomshare/internal/roomshare"
)

// MemoryShareRepository is an in-process Repository with the same CAS
// semantics as the Postgres one. Used by tests and the load generator.
type MemoryShareRepository struct {
	mu     sync.Mutex
	shares map[string]*roomshare.Share
}

func NewMemoryShareRepository() *MemoryShareRepository {
	return &MemoryShareRepository{shares: make(map[string]*roomshare.Share)}
}

func (r *MemoryShareRepository) Load(_ context.Context, shareID string) (*roomshare.Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	share, ok := r.shares[shareID]
	if !ok {
		return nil, ErrShareNotFound
	}
	return share.Clone(), nil
}

func (r *MemoryShareRepository) Save(_ context.Context, share *roomshare.Share, expectedVersion uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.shares[share.ID]
	if expectedVersion == 0 {
		if ok {
			return ErrVersionConflict
		}
	} else {
		if !ok {
			return ErrShareNotFound
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}
	}
	share.Version = expectedVersion + 1
	r.shares[share.ID] = share.Clone()
	return nil
}

func (r *MemoryShareRepository) ListActive(_ context.Context, limit int) ([]*roomshare.Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var shares []*roomshare.Share
	for _, share := range r.shares {
		if share.Status == roomshare.StatusActive || share.Status == roomshare.StatusFull {
			shares = append(shares, share.Clone())
		}
	}
	sort.Slice(shares, func(i, j int) bool {
		return shares[i].CreatedAt.After(shares[j].CreatedAt)
	})
	if limit > 0 && len(shares) > limit {
		shares = shares[:limit]
	}
	return shares, nil
}
