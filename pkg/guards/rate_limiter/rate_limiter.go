package rate_limiter

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	GuardName = "rate_limiter"

	DefaultMaxCalls      = 100
	DefaultWindow        = 60 * time.Second
	DefaultSweepInterval = 5 * time.Minute
)

type Config struct {
	MaxCalls      int           `mapstructure:"max_calls"`
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Opts allows tests to control virtual time.
type Opts struct {
	TimeProvider func() time.Time
}

type entry struct {
	count         int
	windowResetAt time.Time
}

// Limiter applies fixed-window counting per operation key. Entries are
// created lazily, serialized under one mutex, and swept in the background
// once their window has long expired.
type Limiter struct {
	mu           sync.Mutex
	entries      map[string]*entry
	cfg          Config
	logger       *logrus.Logger
	timeProvider func() time.Time
	stopSweep    chan struct{}
	stopOnce     sync.Once
}

// NewLimiter creates a limiter and starts its background sweep.
func NewLimiter(logger *logrus.Logger, cfg Config, opts *Opts) *Limiter {
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = DefaultMaxCalls
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	l := &Limiter{
		entries:      make(map[string]*entry),
		cfg:          cfg,
		logger:       logger,
		timeProvider: timeProvider,
		stopSweep:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

func (l *Limiter) Name() string {
	return GuardName
}

// Allow reports whether one more call for operationKey fits in the current
// window, incrementing the counter when it does. Windows are tracked
// independently per key.
func (l *Limiter) Allow(operationKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeProvider()
	e, ok := l.entries[operationKey]
	if !ok {
		e = &entry{windowResetAt: now.Add(l.cfg.Window)}
		l.entries[operationKey] = e
	}
	if now.After(e.windowResetAt) {
		e.count = 0
		e.windowResetAt = now.Add(l.cfg.Window)
	}
	if e.count >= l.cfg.MaxCalls {
		l.logger.WithFields(logrus.Fields{
			"operation": operationKey,
			"limit":     l.cfg.MaxCalls,
			"window":    l.cfg.Window.String(),
		}).Warn("rate limit exceeded")
		return false
	}
	e.count++
	return true
}

// RetryAfter returns how long until operationKey's window resets.
func (l *Limiter) RetryAfter(operationKey string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[operationKey]
	if !ok {
		return 0
	}
	remaining := e.windowResetAt.Sub(l.timeProvider())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Limit exposes the configured per-window maximum.
func (l *Limiter) Limit() int {
	return l.cfg.MaxCalls
}

// Stop terminates the background sweep.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopSweep)
	})
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopSweep:
			return
		}
	}
}

// sweep drops entries whose window expired more than one sweep interval ago.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.timeProvider().Add(-l.cfg.SweepInterval)
	for key, e := range l.entries {
		if e.windowResetAt.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}
