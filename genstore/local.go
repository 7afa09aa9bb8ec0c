package genstore

import (
	"context"
	"sync"
	"time"
)

type localGen struct {
	gen       uint64
	updatedAt time.Time
}

// LocalGenStore keeps generations in-process, with an optional janitor that
// prunes long-idle entries.
type LocalGenStore struct {
	mu   sync.RWMutex
	gens map[string]localGen
	now  func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{
		gens: make(map[string]localGen),
		now:  time.Now,
	}
	if cleanupInterval > 0 && retention > 0 {
		s.stop = make(chan struct{})
		s.wg.Add(1)
		go s.janitor(cleanupInterval, retention)
	}
	return s
}

func (s *LocalGenStore) janitor(every, retention time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Cleanup(retention)
		case <-s.stop:
			return
		}
	}
}

func (s *LocalGenStore) Current(_ context.Context, key string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[key].gen, nil
}

func (s *LocalGenStore) Bump(_ context.Context, key string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.gens[key]
	e.gen++
	e.updatedAt = s.now()
	s.gens[key] = e
	return e.gen, nil
}

// Cleanup drops entries not bumped within retention. A pruned key reads as
// generation 0 again, so a snapshot saved at a higher generation becomes
// stale: pruning can only cause misses, never stale hits.
func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.gens {
		if e.updatedAt.Before(cutoff) {
			delete(s.gens, k)
		}
	}
}

func (s *LocalGenStore) Close(_ context.Context) error {
	if s.stop != nil {
		close(s.stop)
		s.wg.Wait()
		s.stop = nil
	}
	return nil
}
