package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-move-alerts/internal/alerts"
	"price-move-alerts/internal/monitor"
)

// DocumentVersion is the layout version written to every backend.
const DocumentVersion = 1

const (
	defaultDebounce     = 500 * time.Millisecond
	defaultWriteTimeout = 10 * time.Second
)

var (
	// ErrAlreadyExists is returned by Create when the identity is already live.
	ErrAlreadyExists = errors.New("storage: monitor already exists")
	// ErrNotFound is returned when an identity has no record.
	ErrNotFound = errors.New("storage: monitor not found")
)

type document struct {
	Version  int                        `json:"version"`
	Monitors map[string]monitor.Monitor `json:"monitors"`
}

// Options tunes a Store.
type Options struct {
	Window       time.Duration
	Debounce     time.Duration
	WriteTimeout time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Stats summarises the stored monitors.
type Stats struct {
	Total   int
	Live    int
	Expired int
	Owners  int
	Tokens  int
}

// Store is the authoritative, persisted set of monitors keyed by identity.
type Store struct {
	backend      Backend
	window       time.Duration
	debounce     time.Duration
	writeTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger

	mu       sync.Mutex
	monitors map[string]monitor.Monitor
	dirty    bool
	timer    *time.Timer
	closed   bool

	// writeMu is taken before the snapshot so documents reach the backend in mutation order.
	writeMu sync.Mutex
}

// NewStore wires a backend into a Store. Call Load before use.
func NewStore(backend Backend, opts Options) *Store {
	if opts.Window <= 0 {
		opts.Window = monitor.DefaultWindow
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backend:      backend,
		window:       opts.Window,
		debounce:     opts.Debounce,
		writeTimeout: opts.WriteTimeout,
		now:          opts.Now,
		logger:       opts.Logger.With().Str("component", "store").Logger(),
		monitors:     make(map[string]monitor.Monitor),
	}
}

// Window is the configured monitoring window.
func (s *Store) Window() time.Duration { return s.window }

// Load replaces in-memory state with the backend document. A missing document
// yields an empty store; a corrupt or foreign-version document is discarded with a warning.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.backend.Read(ctx)
	if err != nil && !errors.Is(err, ErrNoDocument) {
		return fmt.Errorf("load state: %w", err)
	}

	loaded := make(map[string]monitor.Monitor)
	if err == nil {
		loaded = s.decode(data)
	}

	s.mu.Lock()
	s.monitors = loaded
	s.dirty = false
	s.mu.Unlock()

	s.logger.Info().Int("monitors", len(loaded)).Msg("state loaded")
	return nil
}

func (s *Store) decode(data []byte) map[string]monitor.Monitor {
	out := make(map[string]monitor.Monitor)

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn().Err(err).Msg("state document is corrupt, starting empty")
		return out
	}
	if doc.Version != DocumentVersion {
		s.logger.Warn().Int("version", doc.Version).Int("expected", DocumentVersion).Msg("state document version mismatch, starting empty")
		return out
	}

	for key, m := range doc.Monitors {
		if m.Token == "" {
			id, ok := monitor.ParseKey(key)
			if !ok {
				s.logger.Warn().Str("key", key).Msg("dropping monitor with unparseable key")
				continue
			}
			m.Owner, m.Token = id.Owner, id.Token
		}
		if !m.BaselinePrice.IsPositive() {
			s.logger.Warn().Str("key", key).Msg("dropping monitor without a baseline")
			continue
		}
		m.Normalize()
		out[m.Identity().Key()] = m
	}
	return out
}

// Create starts a monitor for id at price. A live monitor for id yields
// ErrAlreadyExists; an expired leftover is replaced.
func (s *Store) Create(id monitor.Identity, price decimal.Decimal) (monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := id.Key()
	if existing, ok := s.monitors[key]; ok && existing.Live(now, s.window) {
		return existing.Clone(), ErrAlreadyExists
	}

	m := monitor.New(id, price, now)
	s.monitors[key] = m
	s.markDirtyLocked()
	return m.Clone(), nil
}

// UpdatePrice records an observation and returns the updated monitor.
func (s *Store) UpdatePrice(id monitor.Identity, price decimal.Decimal) (monitor.Monitor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.Key()
	m, ok := s.monitors[key]
	if !ok {
		return monitor.Monitor{}, false
	}
	m.Observe(price, s.now())
	s.monitors[key] = m
	s.markDirtyLocked()
	return m.Clone(), true
}

// MarkFired records kind for id. It reports false when kind had already fired.
func (s *Store) MarkFired(id monitor.Identity, kind alerts.Kind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.Key()
	m, ok := s.monitors[key]
	if !ok {
		return false, ErrNotFound
	}
	if !m.MarkFired(kind) {
		return false, nil
	}
	s.monitors[key] = m
	s.markDirtyLocked()
	return true, nil
}

// Remove deletes id and persists synchronously.
func (s *Store) Remove(id monitor.Identity) (bool, error) {
	s.mu.Lock()
	key := id.Key()
	_, ok := s.monitors[key]
	if ok {
		delete(s.monitors, key)
		s.dirty = true
	}
	s.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, s.flushNow()
}

// RemoveOwner deletes every monitor of owner and persists synchronously.
func (s *Store) RemoveOwner(owner string) (int, error) {
	s.mu.Lock()
	removed := 0
	for key, m := range s.monitors {
		if m.Owner == owner {
			delete(s.monitors, key)
			removed++
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	s.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	return removed, s.flushNow()
}

// IsLive reports whether id has a monitor inside its window.
func (s *Store) IsLive(id monitor.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id.Key()]
	return ok && m.Live(s.now(), s.window)
}

// Get returns a copy of the record for id, expired or not.
func (s *Store) Get(id monitor.Identity) (monitor.Monitor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id.Key()]
	if !ok {
		return monitor.Monitor{}, false
	}
	return m.Clone(), true
}

// Live returns copies of all live monitors ordered by identity key.
func (s *Store) Live() []monitor.Monitor {
	return s.collect(func(monitor.Monitor) bool { return true })
}

// OwnerLive returns copies of owner's live monitors.
func (s *Store) OwnerLive(owner string) []monitor.Monitor {
	return s.collect(func(m monitor.Monitor) bool { return m.Owner == owner })
}

// OwnerLiveCount counts owner's live monitors.
func (s *Store) OwnerLiveCount(owner string) int {
	return len(s.OwnerLive(owner))
}

// Owners lists owners holding at least one live monitor.
func (s *Store) Owners() []string {
	seen := make(map[string]struct{})
	for _, m := range s.Live() {
		seen[m.Owner] = struct{}{}
	}
	owners := make([]string, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// Stats counts records, owners and distinct tokens.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	owners := make(map[string]struct{})
	tokens := make(map[string]struct{})
	st := Stats{Total: len(s.monitors)}
	for _, m := range s.monitors {
		if !m.Live(now, s.window) {
			st.Expired++
			continue
		}
		st.Live++
		owners[m.Owner] = struct{}{}
		tokens[m.Token] = struct{}{}
	}
	st.Owners = len(owners)
	st.Tokens = len(tokens)
	return st
}

// SweepExpired deletes every monitor past its window.
func (s *Store) SweepExpired() (int, error) {
	expired, err := s.TakeExpired()
	return len(expired), err
}

// TakeExpired deletes and returns every monitor past its window. The removal
// is persisted synchronously.
func (s *Store) TakeExpired() ([]monitor.Monitor, error) {
	s.mu.Lock()
	now := s.now()
	var expired []monitor.Monitor
	for key, m := range s.monitors {
		if m.Live(now, s.window) {
			continue
		}
		expired = append(expired, m.Clone())
		delete(s.monitors, key)
	}
	if len(expired) > 0 {
		s.dirty = true
	}
	s.mu.Unlock()

	if len(expired) == 0 {
		return nil, nil
	}
	sortByKey(expired)
	return expired, s.flushNow()
}

// Flush writes pending changes synchronously.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := json.Marshal(document{Version: DocumentVersion, Monitors: s.monitors})
	if err == nil {
		s.dirty = false
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := s.backend.Write(ctx, data); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Close cancels the pending debounced write and flushes.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.Flush(ctx)
}

func (s *Store) collect(keep func(monitor.Monitor) bool) []monitor.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]monitor.Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		if m.Live(now, s.window) && keep(m) {
			out = append(out, m.Clone())
		}
	}
	sortByKey(out)
	return out
}

func (s *Store) markDirtyLocked() {
	s.dirty = true
	if s.closed || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.debounce, s.onTimer)
}

func (s *Store) onTimer() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.logger.Error().Err(err).Msg("debounced state write failed")
	}
}

func (s *Store) flushNow() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.logger.Error().Err(err).Msg("state write failed")
		return err
	}
	return nil
}

func sortByKey(ms []monitor.Monitor) {
	sort.Slice(ms, func(i, j int) bool {
		return ms[i].Identity().Key() < ms[j].Identity().Key()
	})
}
