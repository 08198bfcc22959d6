package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neexbeast/culturalcompass/internal/geo"
	"github.com/neexbeast/culturalcompass/internal/metrics"
)

// ErrSessionClosed is returned by Session methods after Close.
var ErrSessionClosed = errors.New("discovery session closed")

// Session defaults applied when the corresponding SessionConfig field is unset.
const (
	DefaultRefetchThresholdMeters = 100.0
	DefaultRadiusMeters           = 5000
	DefaultFetchTimeout           = 10 * time.Second

	noticeUnavailable = "nearby attractions are unavailable: offline and nothing cached"
)

// SessionConfig holds the tunables of a discovery session.
type SessionConfig struct {
	UserID string

	// RefetchThresholdMeters is the movement, strictly exceeded, that triggers a new fetch.
	RefetchThresholdMeters float64
	RadiusMeters           int
	MaxResults             int
	FetchTimeout           time.Duration
	// Scorer defaults to DefaultScorer when nil. A zero penalty is kept.
	Scorer                 *Scorer
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.RefetchThresholdMeters <= 0 {
		c.RefetchThresholdMeters = DefaultRefetchThresholdMeters
	}
	if c.RadiusMeters <= 0 {
		c.RadiusMeters = DefaultRadiusMeters
	}
	if c.MaxResults <= 0 || c.MaxResults > MaxResults {
		c.MaxResults = MaxResults
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.Scorer == nil {
		def := DefaultScorer()
		c.Scorer = &def
	}
	return c
}

// Dependencies are the collaborators a Session talks to.
type Dependencies struct {
	Provider  PlacesProvider
	Cache     CacheStore
	Favorites FavoriteReader
	Oracle    ConnectivityOracle
	Log       *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Status is a point-in-time view of the session's control state. Latest is
// the snapshot published as of that same point, nil before the first one.
type Status struct {
	State     State
	Seq       uint64
	Fetch     FetchState
	HasResult bool
	Latest    *Snapshot
}

// Session is the fetch orchestrator of one discovery session. All state
// changes run on a single control goroutine fed by an event channel; network
// work happens in fetch goroutines that report back through the same channel.
type Session struct {
	cfg       SessionConfig
	provider  PlacesProvider
	cache     CacheStore
	favorites FavoriteReader
	oracle    ConnectivityOracle
	log       *slog.Logger
	now       func() time.Time
	ranker    Ranker
	publisher *Publisher

	events  chan any
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	fetches sync.WaitGroup
	once    sync.Once

	// Owned by the control goroutine.
	state         FetchState
	fsm           State
	seq           uint64
	pendingCenter geo.Coordinate
	candidates    []Attraction
	favoriteIDs   map[string]struct{}
	toggled       map[string]bool
	source        Source
	batchSeq      uint64
	center        geo.Coordinate
	hasList       bool
}

type (
	locationEvent struct{ pos geo.Coordinate }
	searchEvent   struct{ place geo.Coordinate }
	followEvent   struct{}
	filterEvent   struct{ filter CategoryFilter }
	sortEvent     struct{ mode SortMode }
	refreshEvent  struct{}
	favoriteEvent struct {
		placeID string
		on      bool
	}
	statusEvent struct{ reply chan Status }

	fetchResult struct {
		seq        uint64
		center     geo.Coordinate
		categories []string
		source     Source
		batch      []Attraction
		favorites  map[string]struct{}
		err        error
		elapsed    time.Duration
	}
)

// NewSession starts a discovery session with the given initial state.
func NewSession(cfg SessionConfig, state FetchState, deps Dependencies) *Session {
	cfg = cfg.withDefaults()
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:         cfg,
		provider:    deps.Provider,
		cache:       deps.Cache,
		favorites:   deps.Favorites,
		oracle:      deps.Oracle,
		log:         deps.Log.With("user", cfg.UserID),
		now:         deps.Now,
		ranker:      Ranker{Scorer: *cfg.Scorer, MaxResults: cfg.MaxResults},
		publisher:   NewPublisher(deps.Cache, deps.Log),
		events:      make(chan any, 64),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
		state:       state,
		fsm:         StateIdle,
		favoriteIDs: map[string]struct{}{},
		toggled:     map[string]bool{},
		source:      SourceNone,
	}

	metrics.ActiveSessions.Inc()
	go s.run()
	return s
}

// Subscribe registers a consumer of published snapshots.
func (s *Session) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return s.publisher.Subscribe(buffer)
}

// Latest returns the last published snapshot.
func (s *Session) Latest() (Snapshot, bool) {
	return s.publisher.Latest()
}

// UpdateLocation feeds a live position update.
func (s *Session) UpdateLocation(pos geo.Coordinate) error {
	if !pos.Valid() {
		return fmt.Errorf("location %v: %w", pos, geo.ErrInvalidCoordinate)
	}
	return s.send(locationEvent{pos: pos})
}

// SearchAt switches to a user-chosen place and stops following live location.
func (s *Session) SearchAt(place geo.Coordinate) error {
	if !place.Valid() {
		return fmt.Errorf("search place %v: %w", place, geo.ErrInvalidCoordinate)
	}
	return s.send(searchEvent{place: place})
}

// ResumeFollow goes back to tracking live location.
func (s *Session) ResumeFollow() error {
	return s.send(followEvent{})
}

// SetFilter changes the active category filter.
func (s *Session) SetFilter(f CategoryFilter) error {
	return s.send(filterEvent{filter: f})
}

// SetSort changes the active sort mode.
func (s *Session) SetSort(m SortMode) error {
	return s.send(sortEvent{mode: m})
}

// Refresh re-fetches around the current reference point.
func (s *Session) Refresh() error {
	return s.send(refreshEvent{})
}

// FavoriteChanged tells the session a favorite was toggled in the store.
func (s *Session) FavoriteChanged(placeID string, on bool) error {
	return s.send(favoriteEvent{placeID: placeID, on: on})
}

// UserID returns the user this session belongs to.
func (s *Session) UserID() string {
	return s.cfg.UserID
}

// Status returns the control state as seen by the control goroutine.
func (s *Session) Status() (Status, error) {
	reply := make(chan Status, 1)
	if err := s.send(statusEvent{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-s.stopped:
		return Status{}, ErrSessionClosed
	}
}

// FollowSource forwards updates from a location source until ctx is done,
// the channel closes, or the session closes.
func (s *Session) FollowSource(ctx context.Context, updates <-chan geo.Coordinate) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pos, ok := <-updates:
			if !ok {
				return nil
			}
			if err := s.UpdateLocation(pos); err != nil {
				if errors.Is(err, ErrSessionClosed) {
					return err
				}
				s.log.Warn("ignoring location update", "err", err)
			}
		}
	}
}

// Close stops the session, waits for outstanding fetches and cache writes,
// and closes subscriber channels.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.stopped
		s.fetches.Wait()
		s.publisher.Close()
		metrics.ActiveSessions.Dec()
	})
}

func (s *Session) send(ev any) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev any) {
	switch e := ev.(type) {
	case locationEvent:
		s.onLocation(e.pos)
	case searchEvent:
		s.state.FollowLocation = false
		s.startFetch(e.place, "search")
	case followEvent:
		s.state.FollowLocation = true
		if s.state.HasPosition {
			s.startFetch(s.state.LastPosition, "follow")
		}
	case filterEvent:
		s.onFilter(e.filter)
	case sortEvent:
		s.state.Sort = e.mode
		s.republish("")
	case refreshEvent:
		s.onRefresh()
	case favoriteEvent:
		s.onFavorite(e.placeID, e.on)
	case statusEvent:
		st := Status{
			State:     s.fsm,
			Seq:       s.seq,
			Fetch:     s.stateCopy(),
			HasResult: s.hasList,
		}
		// Only this goroutine publishes, so Latest cannot move under us.
		if snap, ok := s.publisher.Latest(); ok {
			st.Latest = &snap
		}
		e.reply <- st
	case fetchResult:
		s.onFetchResult(e)
	default:
		s.log.Error("unknown session event", "type", fmt.Sprintf("%T", ev))
	}
}

func (s *Session) onLocation(pos geo.Coordinate) {
	s.state.LastPosition = pos
	s.state.HasPosition = true

	if !s.state.FollowLocation {
		return
	}
	if s.fsm == StateFetching {
		metrics.CoalescedTriggers.Inc()
		return
	}
	if !s.state.HasLastFetch {
		s.startFetch(pos, "initial")
		return
	}
	if moved := geo.Distance(s.state.LastFetch, pos); moved > s.cfg.RefetchThresholdMeters {
		s.startFetch(pos, "moved")
	}
}

func (s *Session) onFilter(f CategoryFilter) {
	s.state.Filter = f

	if s.hasList && f.Covers(s.state.FetchedCategories) {
		s.republish("")
		return
	}

	switch {
	case s.fsm == StateFetching:
		s.startFetch(s.pendingCenter, "filter")
	case s.state.HasLastFetch:
		s.startFetch(s.state.LastFetch, "filter")
	}
}

func (s *Session) onRefresh() {
	switch {
	case s.state.FollowLocation && s.state.HasPosition:
		s.startFetch(s.state.LastPosition, "refresh")
	case s.state.HasLastFetch:
		s.startFetch(s.state.LastFetch, "refresh")
	}
}

func (s *Session) onFavorite(placeID string, on bool) {
	ids := maps.Clone(s.favoriteIDs)
	if on {
		ids[placeID] = struct{}{}
	} else {
		delete(ids, placeID)
	}
	s.favoriteIDs = ids
	s.toggled[placeID] = on

	if s.hasList {
		s.candidates = Reconcile(s.candidates, s.favoriteIDs)
		s.republish("")
	}
}

// startFetch issues a new fetch cycle. Any cycle already in flight becomes stale.
func (s *Session) startFetch(center geo.Coordinate, reason string) {
	s.seq++
	seq := s.seq
	categories := s.state.Filter.RequestKeys()
	online := s.oracle == nil || s.oracle.IsOnline()

	s.fsm = StateFetching
	s.pendingCenter = center
	s.toggled = map[string]bool{}

	s.log.Debug("fetch cycle issued", "seq", seq, "reason", reason, "center", center.String(), "online", online)

	s.fetches.Add(1)
	go s.fetch(seq, center, categories, online)
}

func (s *Session) fetch(seq uint64, center geo.Coordinate, categories []string, online bool) {
	defer s.fetches.Done()

	start := s.now()
	res := fetchResult{seq: seq, center: center, categories: categories}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("fetch cycle panicked", "seq", seq, "recover", r)
			res.batch = nil
			res.err = fmt.Errorf("fetch cycle panicked: %v", r)
		}
		res.elapsed = s.now().Sub(start)
		select {
		case s.events <- res:
		case <-s.ctx.Done():
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	var places []Place
	var providerErr error
	favorites := map[string]struct{}{}

	if online && s.provider != nil {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("provider call panicked: %v", r)
				}
			}()
			places, providerErr = s.provider.Nearby(gCtx, NearbyRequest{
				Center:       center,
				RadiusMeters: s.cfg.RadiusMeters,
				Categories:   categories,
				MaxResults:   s.cfg.MaxResults,
				RankBy:       "distance",
			})
			return nil
		})
	}

	if s.favorites != nil {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("favorites load panicked", "recover", r)
				}
			}()
			ids, loadErr := s.favorites.FavoriteIDs(gCtx, s.cfg.UserID)
			if loadErr != nil {
				s.log.Warn("favorites load failed, publishing as not favorited", "err", loadErr)
				return nil
			}
			if ids != nil {
				favorites = ids
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		providerErr = err
	}
	res.favorites = favorites

	if online && s.provider != nil && providerErr == nil {
		res.source = SourceLive
		res.batch = buildAttractions(places, center)
		return
	}

	if online {
		s.log.Warn("provider fetch failed, falling back to cache", "seq", seq,
			"err", fmt.Errorf("%w: %w", ErrProviderUnavailable, providerErr))
	}

	batch, err := s.readCache(center)
	if err != nil {
		res.err = err
		return
	}
	res.source = SourceCache
	res.batch = batch
}

func (s *Session) readCache(center geo.Coordinate) ([]Attraction, error) {
	if s.cache == nil {
		return nil, ErrNoCachedData
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
	defer cancel()

	cached, err := s.cache.ReadCached(ctx, s.cfg.UserID)
	if err != nil {
		return nil, fmt.Errorf("reading cached attractions: %w: %w", ErrNoCachedData, err)
	}
	if len(cached) == 0 {
		return nil, ErrNoCachedData
	}
	return remeasure(cached, center), nil
}

func (s *Session) onFetchResult(r fetchResult) {
	if r.seq != s.seq {
		metrics.StaleDiscards.Inc()
		s.log.Debug("discarding stale fetch result", "seq", r.seq, "latest", s.seq)
		return
	}

	s.state.LastFetch = r.center
	s.state.HasLastFetch = true

	if r.err != nil {
		metrics.FetchCycles.WithLabelValues(string(SourceNone), "failed").Inc()
		s.fsm = StateOffline
		s.log.Warn("fetch cycle produced no data", "seq", r.seq, "err", r.err)
		if !s.hasList {
			s.center = r.center
			s.batchSeq = r.seq
			s.source = SourceNone
			s.hasList = true
		}
		// Previously displayed attractions stay visible.
		s.republish(noticeUnavailable)
		return
	}

	metrics.FetchCycles.WithLabelValues(string(r.source), "ok").Inc()
	metrics.FetchDuration.WithLabelValues(string(r.source)).Observe(r.elapsed.Seconds())

	favorites := maps.Clone(r.favorites)
	for id, on := range s.toggled {
		if on {
			favorites[id] = struct{}{}
		} else {
			delete(favorites, id)
		}
	}
	s.toggled = map[string]bool{}
	s.favoriteIDs = favorites

	s.candidates = Reconcile(r.batch, favorites)
	s.source = r.source
	s.center = r.center
	s.batchSeq = r.seq
	s.hasList = true

	if r.source == SourceLive {
		s.fsm = StateReady
		s.state.FetchedCategories = r.categories
		s.publisher.Persist(s.cfg.UserID, r.batch)
	} else {
		s.fsm = StateOffline
		// Whatever the cache holds was fetched for unknown categories.
		s.state.FetchedCategories = nil
	}

	s.republish("")

	// The filter may have widened while this cycle was in flight.
	if r.source == SourceLive && !s.state.Filter.Covers(r.categories) {
		s.startFetch(r.center, "filter")
	}
}

// republish ranks the held batch under the current filter and sort and publishes it.
func (s *Session) republish(notice string) {
	if !s.hasList {
		return
	}
	s.publisher.Publish(Snapshot{
		Seq:         s.batchSeq,
		State:       s.fsm,
		Source:      s.source,
		Center:      s.center,
		Sort:        s.state.Sort,
		Categories:  s.state.Filter.IncludedCategoryKeys(),
		Attractions: s.ranker.Rank(s.candidates, s.state.Filter, s.state.Sort),
		Notice:      notice,
		PublishedAt: s.now(),
	})
}

func (s *Session) stateCopy() FetchState {
	st := s.state
	st.FetchedCategories = append([]string(nil), s.state.FetchedCategories...)
	return st
}
