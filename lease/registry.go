package lease

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lightninglabs/neutrino/cache/lru"
)

// DefaultHistorySize is the default number of finalized leases the registry
// remembers for status queries.
const DefaultHistorySize = 1000

// Store persists the leases that are still in flight so they survive a
// restart.
type Store interface {
	// PutLease inserts or overwrites a lease.
	PutLease(l *Lease) error

	// DeleteLease removes a lease. Deleting an unknown lease is not an
	// error.
	DeleteLease(id ID) error

	// FetchLeases returns all stored leases.
	FetchLeases() ([]*Lease, error)
}

// finalizedLease wraps a lease that left the registry so it can be kept in
// the history cache.
type finalizedLease struct {
	lease *Lease
}

// Size returns 1 so the history is bounded by number of entries.
func (f *finalizedLease) Size() (uint64, error) {
	return 1, nil
}

// Registry is the concurrency safe table of in-flight leases. Every mutation
// happens under a single lock. State updates are written through to the
// store before they become visible.
type Registry struct {
	mu     sync.RWMutex
	leases map[ID]*Lease

	// history holds the most recently finalized leases.
	history *lru.Cache[ID, *finalizedLease]

	store Store
}

// NewRegistry creates a registry. If store is non-nil, the registry is
// restored from it and every mutation is written through.
func NewRegistry(store Store, historySize uint64) (*Registry, error) {
	if historySize == 0 {
		historySize = DefaultHistorySize
	}

	r := &Registry{
		leases:  make(map[ID]*Lease),
		history: lru.NewCache[ID, *finalizedLease](historySize),
		store:   store,
	}

	if store == nil {
		return r, nil
	}

	stored, err := store.FetchLeases()
	if err != nil {
		return nil, fmt.Errorf("unable to restore leases: %w", err)
	}
	for _, l := range stored {
		r.leases[l.ID] = l
	}

	log.Infof("Restored %d in-flight lease(s)", len(stored))

	return r, nil
}

// Insert adds a new lease. If only the store write fails, the lease is still
// inserted and ErrNotPersisted is returned.
func (r *Registry) Insert(l *Lease) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.leases[l.ID]; ok {
		return fmt.Errorf("%w: %v", ErrLeaseExists, l.ID)
	}

	// The channel behind a new lease already exists, so the lease is
	// tracked even if the store fails.
	rec := l.Copy()
	r.leases[l.ID] = rec

	if r.store != nil {
		if err := r.store.PutLease(rec); err != nil {
			return fmt.Errorf("%w: lease %v: %v", ErrNotPersisted,
				l.ID, err)
		}
	}

	return nil
}

// Lookup returns a copy of the lease with the given id. Leases that were
// finalized recently are still found.
func (r *Registry) Lookup(id ID) (*Lease, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if l, ok := r.leases[id]; ok {
		return l.Copy(), nil
	}

	if f, err := r.history.Get(id); err == nil {
		return f.lease.Copy(), nil
	}

	return nil, fmt.Errorf("%w: %v", ErrLeaseNotFound, id)
}

// Finalized returns a lease that has already left the registry, if it is
// still in the history.
func (r *Registry) Finalized(id ID) (*Lease, bool) {
	f, err := r.history.Get(id)
	if err != nil {
		return nil, false
	}

	return f.lease.Copy(), true
}

// UpdateState moves a lease from the expected state to next and applies
// modify to it, atomically. If from equals next, only modify is applied.
// ErrStateMismatch is returned if the lease is no longer in state from.
// Identity, channel and timing fields cannot be changed by modify.
func (r *Registry) UpdateState(id ID, from, next State,
	modify func(*Lease)) (*Lease, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.leases[id]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %v", ErrLeaseNotFound, id)

	case cur.State != from:
		return nil, fmt.Errorf("%w: lease %v is %v, expected %v",
			ErrStateMismatch, id, cur.State, from)

	case from != next && !from.CanTransition(next):
		return nil, fmt.Errorf("%w: %v -> %v", ErrInvalidTransition,
			from, next)
	}

	updated := cur.Copy()
	if modify != nil {
		modify(updated)
	}
	updated.ID = cur.ID
	updated.ChannelPoint = cur.ChannelPoint
	updated.PeerPubKey = cur.PeerPubKey
	updated.Capacity = cur.Capacity
	updated.PushAmount = cur.PushAmount
	updated.CreatedAt = cur.CreatedAt
	updated.ExpiresAt = cur.ExpiresAt
	updated.State = next

	if r.store != nil {
		if err := r.store.PutLease(updated); err != nil {
			return nil, fmt.Errorf("unable to store lease %v: %w",
				id, err)
		}
	}
	r.leases[id] = updated

	return updated.Copy(), nil
}

// Remove deletes a lease from the registry and returns it. Finalized leases
// are moved to the history. A second Remove of the same id returns
// ErrLeaseNotFound.
func (r *Registry) Remove(id ID) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.leases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrLeaseNotFound, id)
	}

	if r.store != nil {
		if err := r.store.DeleteLease(id); err != nil {
			return nil, fmt.Errorf("unable to delete lease %v: %w",
				id, err)
		}
	}
	delete(r.leases, id)

	if l.State.IsFinal() {
		_, err := r.history.Put(id, &finalizedLease{lease: l})
		if err != nil {
			log.Warnf("Unable to add lease %v to history: %v",
				id, err)
		}
	}

	return l.Copy(), nil
}

// List returns copies of all in-flight leases, oldest first.
func (r *Registry) List() []*Lease {
	r.mu.RLock()
	leases := make([]*Lease, 0, len(r.leases))
	for _, l := range r.leases {
		leases = append(leases, l.Copy())
	}
	r.mu.RUnlock()

	sort.Slice(leases, func(i, j int) bool {
		if leases[i].CreatedAt.Equal(leases[j].CreatedAt) {
			return leases[i].ID < leases[j].ID
		}

		return leases[i].CreatedAt.Before(leases[j].CreatedAt)
	})

	return leases
}

// Len returns the number of in-flight leases.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.leases)
}
