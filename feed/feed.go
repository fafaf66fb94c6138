// Package feed holds the bounded, insertion-ordered chat log read by overlay
// clients. Every mutation is mirrored to a durable Persister so a restarted
// process recovers the last-known feed.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/onnwee/chatfeed/telemetry"
)

const (
	// MaxUsernameLen and MaxMessageLen are enforced on every append.
	MaxUsernameLen = 20
	MaxMessageLen  = 2000

	// DefaultLimit is the retention bound of the server feed.
	DefaultLimit = 20

	// TimestampLayout formats Entry.Timestamp.
	TimestampLayout = "15:04:05"

	// Sources recorded on entries.
	SourceSynthetic = "synthetic"
	SourceAmbient   = "ambient"
	SourceManual    = "manual"
	SourceTwitch    = "twitch"
	SourceYouTube   = "youtube"

	persistTimeout = 5 * time.Second
)

// Entry is one chat line. Entries are immutable once appended.
type Entry struct {
	ID        string `json:"id,omitempty"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	TS        int64  `json:"ts,omitempty"`
	Color     string `json:"color,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Persister mirrors the feed to durable storage.
type Persister interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// Sink observes every appended entry after the store lock is released.
type Sink func(Entry)

// Store is the shared chat log. All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
	version uint64
	subs    map[chan struct{}]struct{}

	now       func() time.Time
	persister Persister
	sinks     []Sink

	persistMu sync.Mutex
	persisted uint64
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the time source used to stamp entries.
func WithNow(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithSink registers fn to observe appended entries.
func WithSink(fn Sink) Option { return func(s *Store) { s.sinks = append(s.sinks, fn) } }

// New returns an empty store keeping the last limit entries. A nil persister
// keeps the feed in memory only.
func New(limit int, p Persister, opts ...Option) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &Store{
		limit:     limit,
		persister: p,
		now:       time.Now,
		subs:      make(map[chan struct{}]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Limit returns the retention bound.
func (s *Store) Limit() int { return s.limit }

// Append stores e at the end of the log, trims to the retention bound and
// mirrors the result to the persister. It returns the stored entry.
func (s *Store) Append(e Entry) Entry {
	s.mu.Lock()
	e = s.normalize(e)
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.limit; over > 0 {
		s.entries = append([]Entry(nil), s.entries[over:]...)
	}
	version, snap := s.commitLocked()
	s.mu.Unlock()

	telemetry.CountAppend(e.Source)
	telemetry.SetGauge(telemetry.StoreSize, float64(len(snap)))
	for _, fn := range s.sinks {
		fn(e)
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persist(ctx, version, snap); err != nil {
		slog.Warn("feed persist failed", slog.Any("err", err), slog.String("component", "feed"))
	}
	return e
}

// Clear empties the log and persists the empty list before returning.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.entries = nil
	version, snap := s.commitLocked()
	s.mu.Unlock()

	telemetry.SetGauge(telemetry.StoreSize, 0)
	return s.persist(ctx, version, snap)
}

// Load replaces the in-memory log with the persisted one, keeping the last
// limit entries. On a read or decode failure the store is left empty and the
// error is returned; the durable copy is overwritten by the next mutation.
func (s *Store) Load(ctx context.Context) error {
	var loaded []Entry
	var err error
	if s.persister != nil {
		loaded, err = s.persister.Load(ctx)
	}
	if err != nil {
		loaded = nil
	}
	if over := len(loaded) - s.limit; over > 0 {
		loaded = loaded[over:]
	}
	s.mu.Lock()
	s.entries = append([]Entry(nil), loaded...)
	s.commitLocked()
	n := len(s.entries)
	s.mu.Unlock()
	telemetry.SetGauge(telemetry.StoreSize, float64(n))
	return err
}

// List returns a copy of the log, most recent last.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Latest returns the newest entry.
func (s *Store) Latest() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Subscribe returns a channel signalled after every mutation and a cancel
// func. Signals coalesce: a slow reader sees at least one signal after the
// latest change.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}

// commitLocked bumps the version, notifies subscribers and returns a snapshot.
// Caller holds s.mu.
func (s *Store) commitLocked() (uint64, []Entry) {
	s.version++
	snap := make([]Entry, len(s.entries))
	copy(snap, s.entries)
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return s.version, snap
}

// persist writes snap unless a newer version has already been written.
func (s *Store) persist(ctx context.Context, version uint64, snap []Entry) error {
	if s.persister == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if version <= s.persisted {
		return nil
	}
	if err := s.persister.Save(ctx, snap); err != nil {
		telemetry.Inc(telemetry.PersistFailures)
		return err
	}
	s.persisted = version
	return nil
}

// normalize enforces field limits and stamps time and id. Caller holds s.mu.
func (s *Store) normalize(e Entry) Entry {
	e.Username = truncate(e.Username, MaxUsernameLen)
	e.Message = truncate(e.Message, MaxMessageLen)
	now := s.now()
	if e.Timestamp == "" {
		e.Timestamp = now.UTC().Format(TimestampLayout)
	}
	if e.TS == 0 {
		e.TS = now.UnixMilli()
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	return e
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
