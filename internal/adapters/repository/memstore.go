package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/psymetric/internal/domain/model"
	"github.com/okian/psymetric/pkg/metrics"
)

// In-memory Store implementation.
//
// Events are kept sorted per session by millisecond timestamp with
// insertion order preserved on ties, so reads never need to re-sort.
type MemStore struct {
	mu sync.RWMutex

	sessions map[string]model.Session
	events   map[string][]model.Event
	seen     map[string]map[string]struct{} // sessionID -> dedupe keys
	metrics  map[string]map[string]model.Metric
	profiles map[string]model.Profile // keyed by session ID

	eventCount int

	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
}

var _ Store = (*MemStore)(nil)

// NewMemStore constructs an in-memory store with configuration options.
func NewMemStore(ctx context.Context, opts ...Option) *MemStore {
	s := &MemStore{
		sessions:              make(map[string]model.Session),
		events:                make(map[string][]model.Event),
		seen:                  make(map[string]map[string]struct{}),
		metrics:               make(map[string]map[string]model.Metric),
		profiles:              make(map[string]model.Profile),
		metricsUpdateInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.stopChan = make(chan struct{})
	s.startMetricsUpdater(ctx)

	return s
}

// startMetricsUpdater publishes store size gauges at the configured interval.
func (s *MemStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.mu.RLock()
				sessions, events := len(s.sessions), s.eventCount
				s.mu.RUnlock()
				metrics.UpdateRepositorySessionsTotal(sessions)
				metrics.UpdateRepositoryEventsTotal(events)
			}
		}
	}()
}

// Close stops the background metrics updater.
func (s *MemStore) Close() error {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	s.wg.Wait()
	return nil
}

func (s *MemStore) CreateSession(ctx context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return nil
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemStore) GetSession(ctx context.Context, id string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *MemStore) UpdateSession(ctx context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemStore) AppendEvent(ctx context.Context, e model.Event) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	key := dedupeKey(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[e.SessionID]; !ok {
		return false, ErrSessionNotFound
	}
	keys, ok := s.seen[e.SessionID]
	if !ok {
		keys = make(map[string]struct{})
		s.seen[e.SessionID] = keys
	}
	if _, dup := keys[key]; dup {
		return false, nil
	}
	keys[key] = struct{}{}

	timeline := s.events[e.SessionID]
	// Insert after the last event with an equal or earlier timestamp.
	i := sort.Search(len(timeline), func(i int) bool {
		return timeline[i].TimestampMS > e.TimestampMS
	})
	timeline = append(timeline, model.Event{})
	copy(timeline[i+1:], timeline[i:])
	timeline[i] = e
	s.events[e.SessionID] = timeline
	s.eventCount++

	return true, nil
}

func (s *MemStore) EventsBySession(ctx context.Context, sessionID string) ([]model.Event, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryReadLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	timeline := s.events[sessionID]
	out := make([]model.Event, len(timeline))
	copy(out, timeline)
	return out, nil
}

func (s *MemStore) UpsertMetric(ctx context.Context, m model.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[m.SessionID]; !ok {
		return ErrSessionNotFound
	}
	byName, ok := s.metrics[m.SessionID]
	if !ok {
		byName = make(map[string]model.Metric)
		s.metrics[m.SessionID] = byName
	}
	byName[m.Name] = m
	return nil
}

func (s *MemStore) MetricsBySession(ctx context.Context, sessionID string) ([]model.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	byName := s.metrics[sessionID]
	out := make([]model.Metric, 0, len(byName))
	for _, m := range byName {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) UpsertProfile(ctx context.Context, p model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[p.SessionID]; !ok {
		return ErrSessionNotFound
	}
	s.profiles[p.SessionID] = p
	return nil
}

func (s *MemStore) ProfileBySession(ctx context.Context, sessionID string) (model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return model.Profile{}, ErrSessionNotFound
	}
	p, ok := s.profiles[sessionID]
	if !ok {
		return model.Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (s *MemStore) LatestProfileByUser(ctx context.Context, userID string, since time.Time, excludeSessionID string) (model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best model.Profile
	found := false
	for _, p := range s.profiles {
		if p.UserID != userID || p.CreatedAt.Before(since) || p.SessionID == excludeSessionID {
			continue
		}
		if !found || p.CreatedAt.After(best.CreatedAt) {
			best = p
			found = true
		}
	}
	if !found {
		return model.Profile{}, ErrProfileNotFound
	}
	return best, nil
}

func (s *MemStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	s.eventCount -= len(s.events[id])
	delete(s.sessions, id)
	delete(s.events, id)
	delete(s.seen, id)
	delete(s.metrics, id)
	delete(s.profiles, id)
	return nil
}

func (s *MemStore) SessionsNeedingExtraction(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id := range s.sessions {
		if len(s.events[id]) > 0 && len(s.metrics[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) SessionsNeedingInference(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id := range s.sessions {
		if len(s.metrics[id]) == 0 {
			continue
		}
		if _, ok := s.profiles[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) CountSessions(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemStore) CountEvents(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventCount
}
