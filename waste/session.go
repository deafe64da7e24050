package waste

import (
	"context"
	"errors"
	"io/fs"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
)

// FeatureSource fetches the raw container registry. *Fetcher implements it.
type FeatureSource interface {
	FetchRawFeatures(ctx context.Context) (*geojson.FeatureCollection, error)
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithFetcher replaces the fetcher built from config.
func WithFetcher(f FeatureSource) SessionOption {
	return func(s *Session) { s.fetcher = f }
}

// WithCache replaces the cache built from config.
func WithCache(c *LocalCache) SessionOption {
	return func(s *Session) { s.cache = c }
}

// WithSeed makes every random draw of the session reproducible.
func WithSeed(seed int64) SessionOption {
	return func(s *Session) { s.seed = seed }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithNotifier announces successful live refreshes.
func WithNotifier(n RefreshNotifier) SessionOption {
	return func(s *Session) { s.notifier = n }
}

// Session owns the canonical container collection and the derived
// collections, and applies the acquisition fallback policy. Consumers only
// ever receive copies.
type Session struct {
	cfg      *Config
	fetcher  FeatureSource
	cache    *LocalCache
	notifier RefreshNotifier
	seed     int64
	now      func() time.Time

	metrics *MetricsEngine
	routes  *RouteBuilder

	mu         sync.RWMutex
	rng        *rand.Rand
	loaded     bool
	containers []ContainerRecord
	status     DataStatus
	events     []CollectionEvent
	generated  []ComplaintRecord
	submitted  []ComplaintRecord
	rates      map[string]float64
}

// NewSession creates a session. Nothing is loaded until the first query.
func NewSession(cfg *Config, opts ...SessionOption) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Session{
		cfg:    cfg,
		seed:   cfg.Generator.Seed,
		now:    time.Now,
		status: DataStatus{Source: SourceNone},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil {
		s.fetcher = NewFetcherFromConfig(cfg.Source)
	}
	if s.cache == nil {
		s.cache = NewLocalCacheFromConfig(cfg.Cache)
	}

	s.rng = newRand(s.seed)
	s.metrics = NewMetricsEngine(cfg.Metrics.TTL, rand.New(rand.NewSource(s.rng.Int63())), s.now)
	s.routes = NewRouteBuilder(rand.New(rand.NewSource(s.rng.Int63())))
	s.routes.now = s.now
	return s
}

// Config returns the session configuration
func (s *Session) Config() *Config { return s.cfg }

// Metrics returns the session's memoizing metrics engine
func (s *Session) Metrics() *MetricsEngine { return s.metrics }

// Cache returns the session's local cache
func (s *Session) Cache() *LocalCache { return s.cache }

// GetContainers returns the canonical collection. Without forceRefresh the
// in-memory collection is reused, then the cache, then the remote source.
// With forceRefresh the remote source is tried first and the cache is served
// as stale if that fails. Acquisition errors never escape; they are reported
// in the snapshot status.
func (s *Session) GetContainers(ctx context.Context, forceRefresh bool) ContainerSnapshot {
	if !forceRefresh {
		s.mu.RLock()
		if s.loaded {
			snap := s.snapshotLocked()
			s.mu.RUnlock()
			return snap
		}
		s.mu.RUnlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded && !forceRefresh {
		return s.snapshotLocked()
	}

	switch {
	case s.cfg.Mode == ModeSynthetic:
		s.loadSyntheticLocked("")
	case forceRefresh:
		s.refreshLocked(ctx)
	default:
		s.loadLocked(ctx)
	}
	return s.snapshotLocked()
}

// Refresh forces a refresh and discards the snapshot; used by the MQTT command topic.
func (s *Session) Refresh(ctx context.Context, force bool) DataStatus {
	return s.GetContainers(ctx, force).Status
}

// Status returns the status of the current collection
func (s *Session) Status() DataStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// GetCollectionEvents returns the collection history. Only synthetic data carries events.
func (s *Session) GetCollectionEvents() []CollectionEvent {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEvents(s.events)
}

// GetComplaints returns submitted and generated complaints, newest first.
func (s *Session) GetComplaints() []ComplaintRecord {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complaintsLocked()
}

// GetNeighborhoodSummaries derives per-neighborhood summaries from the current collections.
func (s *Session) GetNeighborhoodSummaries(ctx context.Context) []NeighborhoodSummary {
	snap := s.GetContainers(ctx, false)
	s.mu.RLock()
	complaints := s.complaintsLocked()
	rates := s.rates
	s.mu.RUnlock()
	return SummarizeNeighborhoods(snap.Records, complaints, s.cfg.Neighborhoods.Known, rates)
}

// BuildRoutes builds a fresh route set over records
func (s *Session) BuildRoutes(records []ContainerRecord, maxRoutes int) RouteSet {
	return s.routes.BuildRoutes(records, maxRoutes)
}

// SubmitComplaint validates req and records it as a New complaint.
func (s *Session) SubmitComplaint(req ComplaintRequest) (ComplaintRecord, error) {
	if err := req.Validate(s.cfg.Neighborhoods); err != nil {
		return ComplaintRecord{}, err
	}
	rec := newComplaint(req, uuid.NewString(), s.now())

	s.mu.Lock()
	s.submitted = append(s.submitted, rec)
	s.mu.Unlock()

	log.Infof("complaint %s recorded for %s: %s", rec.ID, rec.Neighborhood, rec.IssueType)
	return rec, nil
}

func (s *Session) ensureLoaded() {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if !loaded {
		s.GetContainers(context.Background(), false)
	}
}

func (s *Session) complaintsLocked() []ComplaintRecord {
	out := make([]ComplaintRecord, 0, len(s.submitted)+len(s.generated))
	out = append(out, s.submitted...)
	out = append(out, s.generated...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (s *Session) snapshotLocked() ContainerSnapshot {
	return ContainerSnapshot{Records: copyContainers(s.containers), Status: s.status}
}

// loadLocked: cache table, then raw cache, then remote, then fallback.
func (s *Session) loadLocked(ctx context.Context) {
	if s.loadCacheLocked(false, "") {
		return
	}
	err := s.fetchLocked(ctx)
	if err == nil {
		return
	}
	log.WithError(err).Warn("container fetch failed and no cache is available")
	s.fallbackLocked(err)
}

// refreshLocked: remote first; on failure serve cache or in-memory data as stale.
func (s *Session) refreshLocked(ctx context.Context) {
	err := s.fetchLocked(ctx)
	if err == nil {
		return
	}
	log.WithError(err).Warn("forced refresh failed")

	if s.loadCacheLocked(true, err.Error()) {
		return
	}
	if s.loaded && len(s.containers) > 0 {
		s.status.Stale = true
		s.status.Error = err.Error()
		return
	}
	s.fallbackLocked(err)
}

// loadCacheLocked serves the cached table, rebuilding it from the raw file
// when the table is missing or unreadable.
func (s *Session) loadCacheLocked(stale bool, errMsg string) bool {
	updated, _ := s.cache.LastModified()

	if s.cache.HasCachedData() {
		records, dropped := s.validRecords(s.cache.ReadCachedTable())
		if len(records) > 0 {
			s.setContainersLocked(records, DataStatus{
				Source: SourceCache, Stale: stale, UpdatedAt: updated, Dropped: dropped, Error: errMsg,
			})
			return true
		}
	}

	fc, err := s.cache.ReadRaw()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warn("raw cache unusable")
		}
		return false
	}
	res := s.normalizer().Normalize(fc)
	if len(res.Records) == 0 {
		return false
	}
	if err := s.cache.WriteTable(res.Records); err != nil {
		log.WithError(err).Warn("rewriting container table from raw cache")
	}
	if t, ok := s.cache.LastModified(); ok {
		updated = t
	}
	s.setContainersLocked(res.Records, DataStatus{
		Source: SourceCache, Stale: stale, UpdatedAt: updated, Dropped: res.Dropped, Error: errMsg,
	})
	log.Infof("rebuilt container table from raw cache (%d records)", len(res.Records))
	return true
}

// fetchLocked fetches, caches and normalizes the registry.
func (s *Session) fetchLocked(ctx context.Context) error {
	fc, err := s.fetcher.FetchRawFeatures(ctx)
	if err != nil {
		return err
	}
	if err := s.cache.WriteRaw(fc); err != nil {
		log.WithError(err).Warn("writing raw cache")
	}

	res := s.normalizer().Normalize(fc)
	if len(res.Records) > 0 {
		if err := s.cache.WriteTable(res.Records); err != nil {
			log.WithError(err).Warn("writing container table")
		}
	}

	status := DataStatus{Source: SourceLive, UpdatedAt: s.now(), Dropped: res.Dropped}
	s.setContainersLocked(res.Records, status)
	log.Infof("fetched %d containers (%d dropped)", len(res.Records), res.Dropped)

	if s.notifier != nil {
		if err := s.notifier.PublishRefresh(status, len(res.Records)); err != nil {
			log.WithError(err).Warn("announcing refresh")
		} else if err := s.notifier.PublishCritical(res.Records); err != nil {
			log.WithError(err).Warn("announcing critical containers")
		}
	}
	return nil
}

func (s *Session) fallbackLocked(cause error) {
	if s.cfg.FallbackToSynthetic {
		s.loadSyntheticLocked(cause.Error())
		return
	}
	s.setContainersLocked([]ContainerRecord{}, DataStatus{Source: SourceNone, Error: cause.Error()})
}

func (s *Session) loadSyntheticLocked(errMsg string) {
	ds := NewGenerator(s.cfg.Generator, s.cfg.Neighborhoods, s.rng, s.now).Generate()

	s.setContainersLocked(ds.Containers, DataStatus{
		Source: SourceSynthetic, UpdatedAt: s.now(), Error: errMsg,
	})
	s.events = ds.Events
	s.generated = ds.Complaints
	s.rates = make(map[string]float64, len(ds.Summaries))
	for _, sum := range ds.Summaries {
		s.rates[sum.Neighborhood] = sum.RecyclingRate
	}
	log.Infof("generated synthetic dataset: %d containers, %d events, %d complaints",
		len(ds.Containers), len(ds.Events), len(ds.Complaints))
}

func (s *Session) setContainersLocked(records []ContainerRecord, status DataStatus) {
	if records == nil {
		records = []ContainerRecord{}
	}
	s.containers = records
	s.status = status
	s.loaded = true
	if status.Source != SourceSynthetic {
		s.events = nil
		s.generated = nil
		s.rates = nil
	}
}

func (s *Session) normalizer() *Normalizer {
	return NewNormalizer(s.cfg.Neighborhoods, s.rng, s.now)
}

// validRecords drops cached records that no longer pass validation.
func (s *Session) validRecords(records []ContainerRecord) ([]ContainerRecord, int) {
	out := make([]ContainerRecord, 0, len(records))
	dropped := 0
	for _, r := range records {
		if err := ValidateRecord(r, s.cfg.Neighborhoods); err != nil {
			dropped++
			continue
		}
		out = append(out, r)
	}
	if dropped > 0 {
		log.Warnf("dropped %d invalid cached records", dropped)
	}
	return out, dropped
}
