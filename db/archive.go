package db

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/onnwee/chatfeed/feed"
	"github.com/onnwee/chatfeed/telemetry"
)

const (
	// DefaultHistoryLimit and MaxHistoryLimit bound Recent.
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000

	defaultQueueSize = 256
	insertTimeout    = 5 * time.Second
)

// Archiver copies every feed entry into Postgres so history outlives the
// bounded in-memory feed. Writes are queued and never block the feed.
type Archiver struct {
	db    *sql.DB
	queue chan feed.Entry
}

// NewArchiver returns an archiver with a queue of size entries.
func NewArchiver(db *sql.DB, size int) *Archiver {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Archiver{db: db, queue: make(chan feed.Entry, size)}
}

// Enqueue schedules e for archiving. It drops e when the queue is full.
// Its signature matches feed.Sink.
func (a *Archiver) Enqueue(e feed.Entry) {
	select {
	case a.queue <- e:
	default:
		telemetry.Inc(telemetry.ArchiveDropped)
		slog.Warn("archive queue full; dropping entry", slog.String("id", e.ID), slog.String("component", "archive"))
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case e := <-a.queue:
			// a dequeued entry is written even if ctx ends mid-insert
			a.insertLogged(context.WithoutCancel(ctx), e)
		case <-ctx.Done():
			a.flush()
			return nil
		}
	}
}

func (a *Archiver) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	for {
		select {
		case e := <-a.queue:
			a.insertLogged(ctx, e)
		default:
			return
		}
	}
}

func (a *Archiver) insertLogged(ctx context.Context, e feed.Entry) {
	ictx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()
	if err := a.Insert(ictx, e); err != nil {
		slog.Error("failed to archive chat entry", slog.Any("err", err), slog.String("id", e.ID), slog.String("component", "archive"))
	}
}

// Insert writes e. Entries already archived under the same id are ignored.
func (a *Archiver) Insert(ctx context.Context, e feed.Entry) error {
	ts := time.UnixMilli(e.TS).UTC()
	if e.TS == 0 {
		ts = time.Now().UTC()
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO chat_entries (entry_id, username, message, color, source, ts)
		 VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (entry_id) DO NOTHING`,
		e.ID, e.Username, e.Message, e.Color, e.Source, ts)
	return err
}

// Recent returns up to limit of the newest archived entries, oldest first.
func (a *Archiver) Recent(ctx context.Context, limit int) ([]feed.Entry, error) {
	limit = ClampHistoryLimit(limit)
	rows, err := a.db.QueryContext(ctx,
		`SELECT entry_id, username, message, color, source, ts
		 FROM chat_entries ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()

	out := make([]feed.Entry, 0, limit)
	for rows.Next() {
		var e feed.Entry
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.Username, &e.Message, &e.Color, &e.Source, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = ts.UTC().Format(feed.TimestampLayout)
		e.TS = ts.UnixMilli()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ClampHistoryLimit maps non-positive limits to the default and caps the rest.
func ClampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}
