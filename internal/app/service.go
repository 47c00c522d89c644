// Package service coordinates the behavioral pipeline: it ingests
// validated events, sequences the extract and infer stages per
// session, and exposes the query surface used by the HTTP API.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	jobqueue "github.com/okian/psymetric/internal/adapters/mq/queue"
	workerpool "github.com/okian/psymetric/internal/adapters/mq/worker"
	repository "github.com/okian/psymetric/internal/adapters/repository"
	"github.com/okian/psymetric/internal/domain/dedupe"
	"github.com/okian/psymetric/internal/domain/extract"
	"github.com/okian/psymetric/internal/domain/inference"
	"github.com/okian/psymetric/internal/domain/model"
	"github.com/okian/psymetric/internal/domain/schema"
	"github.com/okian/psymetric/internal/domain/traits"
	"github.com/okian/psymetric/internal/domain/validation"
	"github.com/okian/psymetric/pkg/logger"
	"github.com/okian/psymetric/pkg/metrics"
)

// Store backends selectable at startup.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

const (
	defaultQueueSize  = 10000
	defaultDedupeSize = 50000
	enqueueAttempts   = 3
	enqueuePause      = 10 * time.Millisecond
)

// EventInput is one raw ingestion item.
type EventInput struct {
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
}

// EventResult is the per-event ingestion outcome. Duplicate submissions
// of the same logical event are reported as processed.
type EventResult struct {
	Processed bool      `json:"processed"`
	Duplicate bool      `json:"duplicate,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	EventType string    `json:"event_type,omitempty"`
	EventName string    `json:"event_name,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// BatchResult carries ordered per-item outcomes plus aggregate counts.
// Partial success is the normal case, not an error.
type BatchResult struct {
	Results    []EventResult `json:"results"`
	Processed  int           `json:"processed_count"`
	Failed     int           `json:"failed_count"`
	Duplicates int           `json:"duplicate_count"`
}

// ExtractResult is the metric-extraction trigger outcome. Insufficient
// data and unknown sessions surface as Processed=false with an
// explanation, never as a fault.
type ExtractResult struct {
	Processed bool           `json:"processed"`
	Metrics   []model.Metric `json:"metrics,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// InferResult is the trait-inference trigger outcome.
type InferResult struct {
	Processed  bool                    `json:"processed"`
	Profile    *model.Profile          `json:"trait_profile,omitempty"`
	Validation *model.ValidationResult `json:"validation,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// Service wires the pipeline components and implements the external
// interface contracts consumed by the HTTP adapters.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	deduper   dedupe.Deduper
	jobQueue  *jobqueue.InMemoryQueue
	pool      *workerpool.Pool
	sweeper   *workerpool.Sweeper
	extractor *extract.Extractor
	inferrer  *inference.Orchestrator
	validator *validation.Engine
	registry  *traits.Registry

	// Session-scoped locks shared by direct triggers and queued
	// stages so extract/infer never interleave for one session.
	locks *sessionLocks

	// Configuration
	backend       string
	sqlitePath    string
	workerCount   int
	queueSize     int
	dedupeSize    int
	minEvents     int
	sweepInterval time.Duration

	// State
	started bool
	stopCh  chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithBackend selects the persistence backend. Path is only used by
// the sqlite backend.
func WithBackend(backend, path string) Option {
	return func(s *Service) {
		if backend != "" {
			s.backend = backend
			s.sqlitePath = path
		}
	}
}

// WithStore injects a pre-built store, overriding the backend choice.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithWorkerCount sets the number of pipeline workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the stage-job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the ingestion deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMinEvents sets the minimum valid-event count for extraction.
func WithMinEvents(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minEvents = n
		}
	}
}

// WithSweepInterval sets how often lagging sessions are re-enqueued.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		backend:       BackendMemory,
		workerCount:   0, // pool sizes itself from CPU count
		queueSize:     defaultQueueSize,
		dedupeSize:    defaultDedupeSize,
		sweepInterval: 0, // sweeper default
		locks:         newSessionLocks(),
		stopCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the pipeline components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting pipeline service...")

	if s.store == nil {
		switch s.backend {
		case BackendSQLite:
			store, err := repository.OpenSQLStore(ctx, s.sqlitePath)
			if err != nil {
				return err
			}
			s.store = store
			s.logger.Info(ctx, "using sqlite store", logger.String("path", s.sqlitePath))
		default:
			s.store = repository.NewMemStore(ctx)
			s.logger.Info(ctx, "using in-memory store")
		}
	}

	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
	)
	s.jobQueue = jobqueue.NewInMemoryQueue(
		jobqueue.WithCapacity(s.queueSize),
		jobqueue.WithBufferSize(s.queueSize),
	)

	var xopts []extract.Option
	if s.minEvents > 0 {
		xopts = append(xopts, extract.WithMinEvents(s.minEvents))
	}
	s.extractor = extract.NewExtractor(s.store, xopts...)
	s.registry = traits.NewDefaultRegistry()
	s.inferrer = inference.NewOrchestrator(s.store, inference.WithRegistry(s.registry))
	s.validator = validation.NewEngine(s.store)

	s.pool = workerpool.NewPool(s.workerCount, s.jobQueue, s,
		workerpool.WithLogger(s.logger),
	)
	s.pool.Start(ctx)

	var sopts []workerpool.SweeperOption
	if s.sweepInterval > 0 {
		sopts = append(sopts, workerpool.WithSweepInterval(s.sweepInterval))
	}
	s.sweeper = workerpool.NewSweeper(s.store, s.jobQueue, sopts...)
	go s.sweeper.Run(ctx)

	metrics.UpdateQueueCapacity(s.queueSize)

	s.started = true
	s.logger.Info(ctx, "pipeline service started",
		logger.String("backend", s.backend),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)

	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping pipeline service...")

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.pool != nil {
		s.pool.Stop()
	}
	if s.jobQueue != nil {
		_ = s.jobQueue.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	s.started = false
	s.logger.Info(ctx, "pipeline service stopped")
}

// ProcessEvent validates and persists one behavioral event, creating
// the owning session on first contact. A resubmitted logical event is
// acknowledged as processed without a second record.
func (s *Service) ProcessEvent(ctx context.Context, sessionID, eventType string, eventData map[string]any) EventResult {
	if sessionID == "" {
		metrics.RecordEventInvalid(eventType)
		return EventResult{EventType: eventType, Error: "session_id is required"}
	}

	et := model.EventType(eventType)
	payload, err := schema.Validate(et, eventName(et, eventData), eventData)
	if err != nil {
		metrics.RecordEventInvalid(eventType)
		s.logger.Warn(ctx, "rejected event",
			logger.String("sessionID", sessionID),
			logger.String("eventType", eventType),
			logger.Error(err),
		)
		return EventResult{SessionID: sessionID, EventType: eventType, Error: err.Error()}
	}

	sess, err := s.ensureSession(ctx, sessionID, et, payload)
	if err != nil {
		metrics.RecordErrorByComponent("ingest", "session")
		return EventResult{SessionID: sessionID, EventType: eventType, Error: err.Error()}
	}

	ev := model.Event{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Type:          et,
		Name:          payload.Kind(),
		ClientEventID: clientEventID(eventData),
		Timestamp:     payload.When(),
		TimestampMS:   payload.Millis(),
		Payload:       payload.Fields(),
		Status:        model.ValidationValid,
	}

	key := dedupe.EventKey(ev)
	if s.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordEventDuplicate()
		return EventResult{
			Processed: true,
			Duplicate: true,
			SessionID: sessionID,
			EventType: eventType,
			EventName: ev.Name,
			Timestamp: ev.Timestamp,
		}
	}

	created, err := s.store.AppendEvent(ctx, ev)
	if err != nil {
		// Leave the event retryable.
		s.deduper.Unrecord(ctx, key)
		metrics.RecordErrorByComponent("ingest", "store")
		s.logger.Warn(ctx, "failed to persist event",
			logger.String("sessionID", sessionID),
			logger.String("eventType", eventType),
			logger.Error(err),
		)
		return EventResult{SessionID: sessionID, EventType: eventType, Error: err.Error()}
	}
	if !created {
		metrics.RecordEventDuplicate()
	} else {
		metrics.RecordEventIngested()
	}

	if et == model.EventSessionEnd {
		s.completeSession(ctx, sess, payload)
	}

	return EventResult{
		Processed: true,
		Duplicate: !created,
		SessionID: sessionID,
		EventType: eventType,
		EventName: ev.Name,
		Timestamp: ev.Timestamp,
	}
}

// ProcessEventBatch ingests an ordered list of events, reporting each
// outcome individually. A bad item never aborts the rest.
func (s *Service) ProcessEventBatch(ctx context.Context, items []EventInput) BatchResult {
	out := BatchResult{Results: make([]EventResult, 0, len(items))}
	for _, item := range items {
		res := s.ProcessEvent(ctx, item.SessionID, item.EventType, item.EventData)
		out.Results = append(out.Results, res)
		switch {
		case res.Duplicate:
			out.Duplicates++
			out.Processed++
		case res.Processed:
			out.Processed++
		default:
			out.Failed++
		}
	}
	return out
}

// ExtractMetrics runs metric extraction for a session on demand.
func (s *Service) ExtractMetrics(ctx context.Context, sessionID string) ExtractResult {
	rows, err := s.runExtract(ctx, sessionID)
	if err != nil {
		return ExtractResult{Error: err.Error()}
	}
	return ExtractResult{Processed: true, Metrics: rows}
}

// InferTraits runs trait inference followed by profile validation for
// a session on demand.
func (s *Service) InferTraits(ctx context.Context, sessionID string) InferResult {
	profile, err := s.runInfer(ctx, sessionID)
	if err != nil {
		return InferResult{Error: err.Error()}
	}
	return InferResult{Processed: true, Profile: &profile, Validation: profile.Validation}
}

// Profile returns the stored profile for a session. Purely a read; it
// never triggers recomputation.
func (s *Service) Profile(ctx context.Context, sessionID string) (model.Profile, error) {
	return s.store.ProfileBySession(ctx, sessionID)
}

// LatestProfileForUser returns the most recent profile across all of
// a user's sessions.
func (s *Service) LatestProfileForUser(ctx context.Context, userID string) (model.Profile, error) {
	return s.store.LatestProfileByUser(ctx, userID, time.Time{}, "")
}

// RunStage executes one queued pipeline stage. It implements the
// worker Runner contract: a nil return or a non-transient error tells
// the worker not to retry.
func (s *Service) RunStage(ctx context.Context, job jobqueue.Job) error {
	switch job.Stage {
	case jobqueue.StageExtract:
		_, err := s.runExtract(ctx, job.SessionID)
		if errors.Is(err, extract.ErrInsufficientData) {
			// Normal outcome; the sweeper revisits the session
			// once more events arrive.
			s.logger.Debug(ctx, "extraction deferred",
				logger.String("sessionID", job.SessionID),
				logger.Error(err),
			)
			return nil
		}
		return err
	case jobqueue.StageInfer:
		_, err := s.runInfer(ctx, job.SessionID)
		if errors.Is(err, inference.ErrNoMetrics) {
			return nil
		}
		return err
	default:
		s.logger.Warn(ctx, "unknown stage", logger.String("stage", string(job.Stage)))
		return nil
	}
}

// runExtract holds the session lock across extraction and chains the
// inference stage on success.
func (s *Service) runExtract(ctx context.Context, sessionID string) ([]model.Metric, error) {
	release := s.locks.acquire(sessionID)
	rows, err := s.extractor.Extract(ctx, sessionID)
	release()
	if err != nil {
		return nil, err
	}

	s.jobQueue.EnqueueWithRetry(ctx,
		jobqueue.Job{SessionID: sessionID, Stage: jobqueue.StageInfer},
		enqueueAttempts, enqueuePause)
	return rows, nil
}

// runInfer holds the session lock across inference and validation,
// and persists the validated profile.
func (s *Service) runInfer(ctx context.Context, sessionID string) (model.Profile, error) {
	release := s.locks.acquire(sessionID)
	defer release()

	profile, err := s.inferrer.Infer(ctx, sessionID)
	if err != nil {
		return model.Profile{}, err
	}

	traitScores := make(map[string]float64, len(profile.Traits))
	confidenceScores := make(map[string]float64, len(profile.Traits))
	for name, t := range profile.Traits {
		traitScores[name] = t.Normalized
		confidenceScores[name] = t.Confidence
	}

	vr := s.validator.Validate(ctx, sessionID, traitScores, confidenceScores)
	profile.Validation = &vr
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return model.Profile{}, err
	}
	return profile, nil
}

// ensureSession fetches the owning session, creating it on first
// contact. A session_start event is authoritative for user identity,
// consent and device context.
func (s *Service) ensureSession(ctx context.Context, sessionID string, et model.EventType, payload schema.Payload) (model.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		sess = model.Session{
			ID:        sessionID,
			GameType:  gameTypeFor(et),
			Status:    model.SessionActive,
			StartTime: payload.When(),
		}
		applySessionStart(&sess, payload)
		if cerr := s.store.CreateSession(ctx, sess); cerr != nil {
			return model.Session{}, cerr
		}
		s.logger.Debug(ctx, "created session",
			logger.String("sessionID", sessionID),
			logger.String("gameType", string(sess.GameType)),
		)
		return sess, nil
	}
	if err != nil {
		return model.Session{}, err
	}

	changed := false
	if game := gameTypeFor(et); game != "" && sess.GameType != game {
		if sess.GameType == "" {
			sess.GameType = game
		} else {
			sess.GameType = model.GameMixed
		}
		changed = true
	}
	if applySessionStart(&sess, payload) {
		changed = true
	}
	if changed {
		if uerr := s.store.UpdateSession(ctx, sess); uerr != nil {
			return model.Session{}, uerr
		}
	}
	return sess, nil
}

// completeSession closes the session and queues metric extraction.
func (s *Service) completeSession(ctx context.Context, sess model.Session, payload schema.Payload) {
	end, ok := payload.(schema.SessionEndPayload)
	if !ok {
		return
	}

	endAt := end.Timestamp
	sess.EndTime = &endAt
	sess.Status = model.SessionCompleted
	if end.TotalDurationMS != nil {
		sess.DurationMS = int64(*end.TotalDurationMS)
	} else if !sess.StartTime.IsZero() {
		sess.DurationMS = sess.EndTime.Sub(sess.StartTime).Milliseconds()
	}
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		metrics.RecordErrorByComponent("ingest", "session")
		s.logger.Warn(ctx, "failed to complete session",
			logger.String("sessionID", sess.ID),
			logger.Error(err),
		)
		return
	}

	s.jobQueue.EnqueueWithRetry(ctx,
		jobqueue.Job{SessionID: sess.ID, Stage: jobqueue.StageExtract},
		enqueueAttempts, enqueuePause)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":    s.started,
		"backend":    s.backend,
		"queueSize":  s.queueSize,
		"dedupeSize": s.dedupeSize,
	}

	if s.started {
		queueLen := s.jobQueue.Len(ctx)
		sessions := s.store.CountSessions(ctx)
		events := s.store.CountEvents(ctx)

		stats["queueLength"] = queueLen
		stats["totalSessions"] = sessions
		stats["totalEvents"] = events
		stats["dedupeEntries"] = s.deduper.Size()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateRepositorySessionsTotal(sessions)
		metrics.UpdateRepositoryEventsTotal(events)
	}

	return stats
}

// applySessionStart copies identity and consent context from a
// session_start payload onto the session. Reports whether anything
// changed.
func applySessionStart(sess *model.Session, payload schema.Payload) bool {
	start, ok := payload.(schema.SessionStartPayload)
	if !ok {
		return false
	}
	if start.UserID != "" {
		sess.UserID = start.UserID
	}
	sess.Consent = start.Consent
	if len(start.DeviceInfo) > 0 {
		sess.DeviceInfo = start.DeviceInfo
	}
	if !start.Timestamp.IsZero() {
		sess.StartTime = start.Timestamp
	}
	return true
}

// eventName picks a specific action name out of the raw payload.
// Generic event types fall back to the type itself.
func eventName(et model.EventType, raw map[string]any) string {
	if name, ok := raw["event_name"].(string); ok && name != "" {
		return name
	}
	if et == model.EventUserAction || et == model.EventSystemEvent {
		return string(et)
	}
	return ""
}

// clientEventID extracts the source-provided identifier used for
// idempotent ingestion, when the client sent one.
func clientEventID(raw map[string]any) string {
	if id, ok := raw["event_id"].(string); ok {
		return id
	}
	return ""
}


func gameTypeFor(et model.EventType) model.GameType {
	switch et {
	case model.EventBalloonRisk:
		return model.GameBalloonRisk
	case model.EventMemoryCards:
		return model.GameMemoryCards
	case model.EventReactionTimer:
		return model.GameReactionTimer
	default:
		return ""
	}
}
