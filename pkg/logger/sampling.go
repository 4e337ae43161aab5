package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SamplingConfig configures log sampling. The poller repeats the same
// warnings every tick for every stuck run; sampling keeps them readable.
type SamplingConfig struct {
	// Enabled turns sampling on/off (default: false)
	Enabled bool

	// Tick is the window after which counters reset (default: 1 minute)
	Tick time.Duration

	// Threshold is the number of identical records let through per tick (default: 20)
	Threshold uint64

	// Rate is the share of records kept once the threshold is reached [0.0, 1.0]
	Rate float64

	// MaxCounterSize limits the number of distinct messages tracked (default: 10000)
	MaxCounterSize int

	// NeverSampleMessages are message prefixes that are always logged.
	NeverSampleMessages []string
}

// Default values for sampling configuration
const (
	DefaultSamplingTick           = time.Minute
	DefaultSamplingThreshold      = 20
	DefaultSamplingMaxCounterSize = 10000
)

var logsDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "qualitygate",
		Subsystem: "logger",
		Name:      "logs_dropped_total",
		Help:      "Total number of logs dropped by sampling",
	},
	[]string{"level"},
)

// samplingState is shared by a handler and every handler derived from it,
// so attributes added with With do not reset the counts.
type samplingState struct {
	mu        sync.Mutex
	counters  map[string]uint64
	lastReset time.Time
}

type samplingHandler struct {
	handler slog.Handler
	config  SamplingConfig
	state   *samplingState
}

// NewSamplingHandler wraps h so that, per tick, the first Threshold records
// with the same level and message pass and the rest are kept at Rate.
// Error records are never sampled.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultSamplingTick
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultSamplingThreshold
	}
	if cfg.MaxCounterSize <= 0 {
		cfg.MaxCounterSize = DefaultSamplingMaxCounterSize
	}
	return &samplingHandler{
		handler: h,
		config:  cfg,
		state: &samplingState{
			counters:  make(map[string]uint64),
			lastReset: time.Now(),
		},
	}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError || h.neverSample(r.Message) {
		return h.handler.Handle(ctx, r)
	}

	count, tracked := h.count(r.Level.String() + ":" + r.Message)
	if !tracked || count <= h.config.Threshold || keep(count, h.config.Rate) {
		return h.handler.Handle(ctx, r)
	}

	logsDroppedTotal.WithLabelValues(strings.ToLower(r.Level.String())).Inc()
	return nil
}

func (h *samplingHandler) count(key string) (uint64, bool) {
	s := h.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastReset) >= h.config.Tick {
		clear(s.counters)
		s.lastReset = time.Now()
	}
	if _, ok := s.counters[key]; !ok && len(s.counters) >= h.config.MaxCounterSize {
		return 0, false
	}
	s.counters[key]++
	return s.counters[key], true
}

func (h *samplingHandler) neverSample(message string) bool {
	for _, prefix := range h.config.NeverSampleMessages {
		if strings.HasPrefix(message, prefix) {
			return true
		}
	}
	return false
}

// keep samples deterministically on the record count.
func keep(count uint64, rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	return count%uint64(1.0/rate) == 0
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{handler: h.handler.WithAttrs(attrs), config: h.config, state: h.state}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{handler: h.handler.WithGroup(name), config: h.config, state: h.state}
}
