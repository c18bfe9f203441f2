// Package memory provides an in-process repository.Store with the same
// conditional-update semantics as the PostgreSQL store. It backs tests and
// STORE_DRIVER=memory deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"delivery/internal/domain"
	"delivery/internal/repository"
)

type state struct {
	deliveries map[string]*domain.Delivery
	conflicts  map[string]*domain.Conflict
	users      map[string]*domain.User
}

func (s *state) clone() *state {
	out := &state{
		deliveries: make(map[string]*domain.Delivery, len(s.deliveries)),
		conflicts:  make(map[string]*domain.Conflict, len(s.conflicts)),
		users:      make(map[string]*domain.User, len(s.users)),
	}
	for k, v := range s.deliveries {
		out.deliveries[k] = copyDelivery(v)
	}
	for k, v := range s.conflicts {
		c := *v
		out.conflicts[k] = &c
	}
	for k, v := range s.users {
		u := *v
		out.users[k] = &u
	}
	return out
}

// Store is an in-memory repository.Store.
type Store struct {
	mu     *sync.Mutex
	data   **state
	locked bool // true inside WithTx; the caller already holds mu
}

// NewStore creates an empty Store.
func NewStore() *Store {
	data := &state{
		deliveries: make(map[string]*domain.Delivery),
		conflicts:  make(map[string]*domain.Conflict),
		users:      make(map[string]*domain.User),
	}
	return &Store{mu: &sync.Mutex{}, data: &data}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Deliveries() repository.DeliveryRepository { return &deliveryRepo{s: s} }
func (s *Store) Conflicts() repository.ConflictRepository  { return &conflictRepo{s: s} }
func (s *Store) Users() repository.UserRepository          { return &userRepo{s: s} }

// WithTx runs fn while holding the store lock and restores the previous
// state if fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.locked {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := (*s.data).clone()
	tx := &Store{mu: s.mu, data: s.data, locked: true}
	if err := fn(tx); err != nil {
		*s.data = snapshot
		return err
	}
	return nil
}

// view runs fn against the current state, locking unless inside a tx.
func (s *Store) view(fn func(st *state) error) error {
	if !s.locked {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(*s.data)
}

// carrier returns the driver holding d: the assignee of its opened conflict
// when one is assigned, the accepting driver otherwise.
func carrier(st *state, d *domain.Delivery) string {
	if c, ok := st.conflicts[d.ConflictID]; ok && c.Status == domain.ConflictStatusOpened && c.AssigneeID != "" {
		return c.AssigneeID
	}
	return d.DriverID
}

func copyDelivery(d *domain.Delivery) *domain.Delivery {
	cp := *d
	cp.Candidates = append([]string(nil), d.Candidates...)
	cp.Recipients.Others = append([]domain.Recipient(nil), d.Recipients.Others...)
	return &cp
}

// ──────────────────────────────────────────────
// DELIVERIES
// ──────────────────────────────────────────────

type deliveryRepo struct{ s *Store }

func (r *deliveryRepo) Create(ctx context.Context, d *domain.Delivery) error {
	return r.s.view(func(st *state) error {
		if _, ok := st.deliveries[d.ID]; ok {
			return repository.ErrDuplicate
		}
		st.deliveries[d.ID] = copyDelivery(d)
		return nil
	})
}

func (r *deliveryRepo) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	var out *domain.Delivery
	err := r.s.view(func(st *state) error {
		d, ok := st.deliveries[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = copyDelivery(d)
		return nil
	})
	return out, err
}

func (r *deliveryRepo) GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Delivery, error) {
	var out *domain.Delivery
	err := r.s.view(func(st *state) error {
		for _, d := range st.deliveries {
			if carrier(st, d) == driverID && !d.Status.IsFinal() {
				if out == nil || d.AcceptedAt.After(out.AcceptedAt) {
					out = copyDelivery(d)
				}
			}
		}
		return nil
	})
	return out, err
}

func (r *deliveryRepo) Assign(ctx context.Context, id, driverID string, at time.Time) error {
	return r.s.view(func(st *state) error {
		d, ok := st.deliveries[id]
		if !ok {
			return repository.ErrNotFound
		}
		if d.Status != domain.DeliveryStatusInitial || d.DriverID != "" {
			return repository.ErrStateChanged
		}
		d.DriverID = driverID
		d.Status = domain.DeliveryStatusPendingReception
		d.AcceptedAt = at
		return nil
	})
}

func (r *deliveryRepo) Transition(ctx context.Context, id string, from, to domain.DeliveryStatus, at time.Time) error {
	return r.s.view(func(st *state) error {
		d, ok := st.deliveries[id]
		if !ok {
			return repository.ErrNotFound
		}
		if d.Status != from {
			return repository.ErrStateChanged
		}
		d.Status = to
		stamp(d, to, at)
		return nil
	})
}

func (r *deliveryRepo) OpenConflict(ctx context.Context, id, conflictID string, from []domain.DeliveryStatus) error {
	return r.s.view(func(st *state) error {
		d, ok := st.deliveries[id]
		if !ok {
			return repository.ErrNotFound
		}
		if d.ConflictID != "" || !containsStatus(from, d.Status) {
			return repository.ErrStateChanged
		}
		d.Status = domain.DeliveryStatusInConflict
		d.ConflictID = conflictID
		return nil
	})
}

func (r *deliveryRepo) ResumeFromConflict(ctx context.Context, id string, unlink bool, at time.Time) error {
	return r.s.view(func(st *state) error {
		d, ok := st.deliveries[id]
		if !ok {
			return repository.ErrNotFound
		}
		if d.Status != domain.DeliveryStatusInConflict {
			return repository.ErrStateChanged
		}
		d.Status = domain.DeliveryStatusStarted
		if d.StartedAt.IsZero() {
			d.StartedAt = at
		}
		if unlink {
			d.ConflictID = ""
		}
		return nil
	})
}

func (r *deliveryRepo) ListExpired(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Delivery, error) {
	var out []*domain.Delivery
	err := r.s.view(func(st *state) error {
		for _, d := range st.deliveries {
			if d.Status == domain.DeliveryStatusInitial && d.CreatedAt.Before(createdBefore) {
				out = append(out, copyDelivery(d))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func stamp(d *domain.Delivery, to domain.DeliveryStatus, at time.Time) {
	switch to {
	case domain.DeliveryStatusStarted:
		d.StartedAt = at
	case domain.DeliveryStatusTerminated:
		d.EndedAt = at
	case domain.DeliveryStatusCancelled:
		d.CancelledAt = at
	}
}

func containsStatus(list []domain.DeliveryStatus, s domain.DeliveryStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────
// CONFLICTS
// ──────────────────────────────────────────────

type conflictRepo struct{ s *Store }

func (r *conflictRepo) Create(ctx context.Context, c *domain.Conflict) error {
	return r.s.view(func(st *state) error {
		for _, existing := range st.conflicts {
			if existing.DeliveryID == c.DeliveryID && existing.Status == domain.ConflictStatusOpened {
				return repository.ErrDuplicate
			}
		}
		cp := *c
		st.conflicts[c.ID] = &cp
		return nil
	})
}

func (r *conflictRepo) GetByID(ctx context.Context, id string) (*domain.Conflict, error) {
	var out *domain.Conflict
	err := r.s.view(func(st *state) error {
		c, ok := st.conflicts[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := *c
		out = &cp
		return nil
	})
	return out, err
}

func (r *conflictRepo) GetOpenByDeliveryID(ctx context.Context, deliveryID string) (*domain.Conflict, error) {
	var out *domain.Conflict
	err := r.s.view(func(st *state) error {
		for _, c := range st.conflicts {
			if c.DeliveryID == deliveryID && c.Status == domain.ConflictStatusOpened {
				cp := *c
				out = &cp
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *conflictRepo) Assign(ctx context.Context, id, assignerID, assigneeID string, at time.Time) error {
	return r.s.view(func(st *state) error {
		c, ok := st.conflicts[id]
		if !ok {
			return repository.ErrNotFound
		}
		if c.Status != domain.ConflictStatusOpened || c.AssignerID != "" || c.AssigneeID != "" {
			return repository.ErrStateChanged
		}
		c.AssignerID = assignerID
		c.AssigneeID = assigneeID
		c.AssignedAt = at
		return nil
	})
}

func (r *conflictRepo) Close(ctx context.Context, id string, status domain.ConflictStatus, at time.Time) error {
	return r.s.view(func(st *state) error {
		c, ok := st.conflicts[id]
		if !ok {
			return repository.ErrNotFound
		}
		if c.Status != domain.ConflictStatusOpened {
			return repository.ErrStateChanged
		}
		c.Status = status
		c.ClosedAt = at
		return nil
	})
}

func (r *conflictRepo) ListUnassigned(ctx context.Context, offset, limit int) ([]*domain.Conflict, int, error) {
	var all []*domain.Conflict
	err := r.s.view(func(st *state) error {
		for _, c := range st.conflicts {
			if c.Status == domain.ConflictStatusOpened && !c.IsAssigned() {
				cp := *c
				all = append(all, &cp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return []*domain.Conflict{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// ──────────────────────────────────────────────
// USERS
// ──────────────────────────────────────────────

type userRepo struct{ s *Store }

func (r *userRepo) Create(ctx context.Context, user *domain.User) error {
	return r.s.view(func(st *state) error {
		if _, ok := st.users[user.ID]; ok {
			return repository.ErrDuplicate
		}
		cp := *user
		st.users[user.ID] = &cp
		return nil
	})
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var out *domain.User
	err := r.s.view(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := *u
		out = &cp
		return nil
	})
	return out, err
}

func (r *userRepo) UpdatePushToken(ctx context.Context, id, token string) error {
	return r.s.view(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		u.PushToken = token
		return nil
	})
}

func (r *userRepo) DebitPoints(ctx context.Context, id string, points int64) (int64, error) {
	var balance int64
	err := r.s.view(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		if u.Points < points {
			return repository.ErrStateChanged
		}
		u.Points -= points
		balance = u.Points
		return nil
	})
	return balance, err
}
