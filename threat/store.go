package threat

import (
	"sync"
	"time"

	"argus/util/goroutine"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often expired indicators are removed when no
// interval is configured.
const DefaultSweepInterval = time.Hour

// Store is a concurrent lookup table of indicator value -> threat metadata
// with TTL-based expiry. Lookup checks expiry itself, so an indicator past
// its TTL is never returned even before the background sweep removes it.
type Store struct {
	mu            sync.RWMutex
	entries       map[string]*Indicator
	sweepInterval time.Duration
	logger        *zap.SugaredLogger
	done          chan struct{}
	wg            sync.WaitGroup
	started       bool
}

// NewStore creates an empty indicator store. The background sweep does not
// run until Start is called.
func NewStore(sweepInterval time.Duration, logger *zap.SugaredLogger) *Store {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Store{
		entries:       make(map[string]*Indicator),
		sweepInterval: sweepInterval,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// Lookup returns the indicator for the given value. Expired entries are
// reported as not found regardless of sweep timing.
func (s *Store) Lookup(value string) (Indicator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ind, ok := s.entries[value]
	if !ok || ind.Expired(time.Now()) {
		return Indicator{}, false
	}
	return *ind, true
}

// Upsert inserts or replaces an indicator, keyed by value. Idempotent: a
// repeated upsert of the same definition leaves the store unchanged.
func (s *Store) Upsert(ind *Indicator) {
	if ind == nil || ind.Value == "" {
		return
	}
	cp := *ind
	if cp.FirstSeen.IsZero() {
		cp.FirstSeen = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cp.Value] = &cp
}

// LoadAll upserts a batch of indicators, typically at startup or on a feed
// update.
func (s *Store) LoadAll(indicators []*Indicator) {
	for _, ind := range indicators {
		s.Upsert(ind)
	}
}

// Len returns the number of stored indicators, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Start launches the background TTL sweep.
func (s *Store) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer goroutine.Recover("threat-ttl-sweep", s.logger)

		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(time.Now())
			case <-s.done:
				return
			}
		}
	}()
}

// Sweep removes all indicators past their TTL at now and returns how many
// were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for value, ind := range s.entries {
		if ind.Expired(now) {
			delete(s.entries, value)
			removed++
		}
	}
	if removed > 0 && s.logger != nil {
		s.logger.Infow("Swept expired threat indicators", "removed", removed, "remaining", len(s.entries))
	}
	return removed
}

// Close stops the background sweep and waits for it to exit.
func (s *Store) Close() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}
