// Package mic records fixed-length chunks from the default capture device.
package mic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/onnwee/chatfeed/audio"
)

// Recorder captures mono 16-bit PCM through miniaudio.
type Recorder struct {
	ctx        *malgo.AllocatedContext
	sampleRate int
}

// NewRecorder initialises the audio backend. Close releases it.
func NewRecorder(sampleRate int) (*Recorder, error) {
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Recorder{ctx: ctx, sampleRate: sampleRate}, nil
}

// SampleRate returns the capture rate in Hz.
func (r *Recorder) SampleRate() int { return r.sampleRate }

// Record captures d of audio from the default input device. It returns early
// with ctx.Err() if ctx is done first.
func (r *Recorder) Record(ctx context.Context, d time.Duration) ([]int16, error) {
	c := newCollector(int(d.Seconds() * float64(r.sampleRate)))

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = audio.Channels
	cfg.SampleRate = uint32(r.sampleRate)

	dev, err := malgo.InitDevice(r.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { c.add(audio.SamplesFromBytes(in)) },
	})
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}
	defer func() { _ = dev.Stop() }()

	select {
	case <-c.done:
		return c.samples(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the audio backend.
func (r *Recorder) Close() error {
	if err := r.ctx.Uninit(); err != nil {
		return err
	}
	r.ctx.Free()
	return nil
}

// collector accumulates callback data until want samples have arrived.
type collector struct {
	mu   sync.Mutex
	buf  []int16
	want int
	done chan struct{}
	once sync.Once
}

func newCollector(want int) *collector {
	c := &collector{buf: make([]int16, 0, want), want: want, done: make(chan struct{})}
	if want <= 0 {
		c.once.Do(func() { close(c.done) })
	}
	return c
}

func (c *collector) add(s []int16) {
	c.mu.Lock()
	room := c.want - len(c.buf)
	if room > 0 {
		if len(s) > room {
			s = s[:room]
		}
		c.buf = append(c.buf, s...)
	}
	full := len(c.buf) >= c.want
	c.mu.Unlock()
	if full {
		c.once.Do(func() { close(c.done) })
	}
}

func (c *collector) samples() []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int16, len(c.buf))
	copy(out, c.buf)
	return out
}
