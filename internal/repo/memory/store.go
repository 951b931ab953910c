// Package memory holds an in-memory registrations.Store. It backs unit and
// concurrency tests and small demo setups where no database is around.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/registration"
	"github.com/marvin-wtt/camp-registration-api/internal/jobs"
	"github.com/marvin-wtt/camp-registration-api/internal/registrations"
)

// OutboxJob is a notification staged by EnqueueNotification, kept around so
// tests can assert what would have been sent.
type OutboxJob struct {
	ID      string
	Type    jobs.JobType
	Payload jobs.RegistrationEventPayload
}

type Store struct {
	mu    sync.Mutex
	camps map[string]camp.Camp
	regs  map[string]registration.Registration // keyed by registration id
	files map[string]string                    // file id -> owning registration id
	jobs  []OutboxJob
}

func NewStore() *Store {
	return &Store{
		camps: make(map[string]camp.Camp),
		regs:  make(map[string]registration.Registration),
		files: make(map[string]string),
	}
}

// tx applies writes immediately under the store lock and stacks undo
// closures. Rollback replays them in reverse, Commit drops them. This gives
// the same visibility a row-locked database transaction would for the
// narrow access pattern the coordinator uses.
type tx struct {
	s     *Store
	undos []func()
	done  bool
}

func (t *tx) Commit(ctx context.Context) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.done = true
	t.undos = nil
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return nil
	}
	for i := len(t.undos) - 1; i >= 0; i-- {
		t.undos[i]()
	}
	t.done = true
	t.undos = nil
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (registrations.Tx, error) {
	return &tx{s: s}, nil
}

func (s *Store) asTx(t registrations.Tx) *tx {
	mt, ok := t.(*tx)
	if !ok {
		panic("memory: foreign transaction handle")
	}
	return mt
}

// SeedCamp inserts or replaces a camp. Test setup helper.
func (s *Store) SeedCamp(c camp.Camp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camps[c.ID] = c
}

// SeedFile registers an unassigned upload so AssignFiles can claim it.
func (s *Store) SeedFile(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = ""
}

func (s *Store) GetCamp(ctx context.Context, id string) (camp.Camp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.camps[id]
	if !ok {
		return camp.Camp{}, camp.ErrNotFound
	}
	return c, nil
}

func (s *Store) UpdateCampCapacity(ctx context.Context, t registrations.Tx, id string, version int64, freePlaces camp.Capacity) error {
	mt := s.asTx(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.camps[id]
	if !ok {
		return camp.ErrNotFound
	}
	if c.Version != version {
		return camp.ErrVersionConflict
	}

	prev := c
	c.FreePlaces = freePlaces
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	s.camps[id] = c

	mt.undos = append(mt.undos, func() { s.camps[id] = prev })
	return nil
}

func (s *Store) GetRegistration(ctx context.Context, campID, id string) (registration.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.regs[id]
	if !ok || r.CampID != campID || r.DeletedAt != nil {
		return registration.Registration{}, registration.ErrNotFound
	}
	return r, nil
}

func (s *Store) CreateRegistration(ctx context.Context, t registrations.Tx, reg registration.Registration) error {
	mt := s.asTx(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.regs[reg.ID] = reg
	mt.undos = append(mt.undos, func() { delete(s.regs, reg.ID) })
	return nil
}

func (s *Store) UpdateRegistration(ctx context.Context, t registrations.Tx, reg registration.Registration) error {
	mt := s.asTx(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.regs[reg.ID]
	if !ok || prev.DeletedAt != nil {
		return registration.ErrNotFound
	}

	s.regs[reg.ID] = reg
	mt.undos = append(mt.undos, func() { s.regs[reg.ID] = prev })
	return nil
}

func (s *Store) SoftDeleteRegistration(ctx context.Context, t registrations.Tx, id string) error {
	mt := s.asTx(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.regs[id]
	if !ok || prev.DeletedAt != nil {
		return registration.ErrNotFound
	}

	now := time.Now().UTC()
	r := prev
	r.DeletedAt = &now
	s.regs[id] = r

	mt.undos = append(mt.undos, func() { s.regs[id] = prev })
	return nil
}

func (s *Store) AssignFiles(ctx context.Context, t registrations.Tx, registrationID string, fileIDs []string) error {
	mt := s.asTx(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range fileIDs {
		fid := id
		prev, existed := s.files[fid]
		s.files[fid] = registrationID
		mt.undos = append(mt.undos, func() {
			if existed {
				s.files[fid] = prev
			} else {
				delete(s.files, fid)
			}
		})
	}
	return nil
}

func (s *Store) EnqueueNotification(ctx context.Context, t registrations.Tx, jt jobs.JobType, payload jobs.RegistrationEventPayload) error {
	mt := s.asTx(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.jobs)
	s.jobs = append(s.jobs, OutboxJob{ID: uuid.NewString(), Type: jt, Payload: payload})
	mt.undos = append(mt.undos, func() { s.jobs = s.jobs[:idx] })
	return nil
}

// Jobs returns a copy of the committed outbox contents.
func (s *Store) Jobs() []OutboxJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboxJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Registrations returns every non-deleted registration for a camp.
func (s *Store) Registrations(campID string) []registration.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []registration.Registration
	for _, r := range s.regs {
		if r.CampID == campID && r.DeletedAt == nil {
			out = append(out, r)
		}
	}
	return out
}

// FileOwner reports which registration a file got assigned to.
func (s *Store) FileOwner(fileID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.files[fileID]
	return owner, ok && owner != ""
}
