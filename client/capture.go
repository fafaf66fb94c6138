package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/chatfeed/audio"
)

// Recorder captures fixed-length PCM chunks.
type Recorder interface {
	Record(ctx context.Context, d time.Duration) ([]int16, error)
	SampleRate() int
}

// Uploader receives encoded chunks.
type Uploader interface {
	UploadAudio(ctx context.Context, wav []byte) (AudioResult, error)
}

// CaptureOptions tunes the capture loop.
type CaptureOptions struct {
	Chunk      time.Duration
	Interval   time.Duration
	ErrorPause time.Duration
	// OnResult observes every upload outcome.
	OnResult func(AudioResult)
}

func (o *CaptureOptions) defaults() {
	if o.Chunk <= 0 {
		o.Chunk = 5 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 500 * time.Millisecond
	}
	if o.ErrorPause <= 0 {
		o.ErrorPause = time.Second
	}
}

// Capture records, gates silence, encodes and uploads chunks until ctx is
// done. Recording and upload errors are logged and retried after ErrorPause.
func Capture(ctx context.Context, rec Recorder, up Uploader, opts CaptureOptions) error {
	opts.defaults()
	for {
		pause := opts.Interval
		if err := captureOnce(ctx, rec, up, opts); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("capture chunk failed", slog.Any("err", err), slog.String("component", "capture"))
			pause = opts.ErrorPause
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
	}
}

func captureOnce(ctx context.Context, rec Recorder, up Uploader, opts CaptureOptions) error {
	samples, err := rec.Record(ctx, opts.Chunk)
	if err != nil {
		return err
	}
	level := audio.RMS(samples)
	if level < audio.SilenceThreshold {
		slog.Debug("audio too quiet, skipping", slog.Float64("rms", level), slog.String("component", "capture"))
		return nil
	}
	wav, err := audio.EncodeWAV(samples, rec.SampleRate())
	if err != nil {
		return err
	}
	res, err := up.UploadAudio(ctx, wav)
	if err != nil {
		return err
	}
	slog.Info("chunk processed", slog.String("status", res.Status), slog.String("transcript", res.Transcript), slog.String("component", "capture"))
	if opts.OnResult != nil {
		opts.OnResult(res)
	}
	return nil
}
