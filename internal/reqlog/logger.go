// Package reqlog persists one RequestLog row per admitted request without
// holding up the response.
package reqlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"github.com/sdko-org/traffic-guard/internal/geo"
	"github.com/sdko-org/traffic-guard/internal/ipaddr"
	"github.com/sdko-org/traffic-guard/internal/models"
)

const maxPathLength = 255

type Record struct {
	IP   string
	Path string
}

type Resolver interface {
	Resolve(ctx context.Context, ip string) geo.Location
}

type Sink interface {
	Create(ctx context.Context, entry *models.RequestLog) error
}

type Options struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
	Now          func() time.Time
}

// Logger buffers records in a bounded queue drained by a fixed worker pool.
// When the queue is full the oldest queued record is discarded.
type Logger struct {
	resolver     Resolver
	sink         Sink
	now          func() time.Time
	writeTimeout time.Duration
	log          *logrus.Entry

	queue    chan Record
	pool     *ants.PoolWithFunc
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
	done     chan struct{}
	dropped  atomic.Uint64
}

func New(logger *logrus.Logger, resolver Resolver, sink Sink, opts Options) (*Logger, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Logger{
		resolver:     resolver,
		sink:         sink,
		now:          opts.Now,
		writeTimeout: opts.WriteTimeout,
		log:          logger.WithField("component", "request_logger"),
		queue:        make(chan Record, opts.QueueSize),
		done:         make(chan struct{}),
	}

	pool, err := ants.NewPoolWithFunc(opts.Workers, l.work,
		ants.WithLogger(l.log),
		ants.WithPanicHandler(func(p interface{}) {
			l.log.WithField("panic", fmt.Sprint(p)).Error("Request log worker panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create log worker pool: %w", err)
	}
	l.pool = pool

	go l.dispatch()
	return l, nil
}

// Enqueue never blocks. Records offered after Close are dropped.
func (l *Logger) Enqueue(rec Record) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.dropped.Add(1)
		return
	}

	for attempt := 0; attempt < 3; attempt++ {
		select {
		case l.queue <- rec:
			return
		default:
		}
		select {
		case <-l.queue:
			l.dropped.Add(1)
		default:
		}
	}
	l.dropped.Add(1)
}

// Dropped counts records discarded because of overflow or shutdown.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close stops intake and waits for queued records to be written.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		<-l.done
		l.inflight.Wait()
		close(drained)
	}()

	defer l.pool.Release()
	select {
	case <-drained:
		if n := l.Dropped(); n > 0 {
			l.log.WithField("dropped", n).Warn("Request logger dropped records")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) dispatch() {
	defer close(l.done)
	for rec := range l.queue {
		l.inflight.Add(1)
		if err := l.pool.Invoke(rec); err != nil {
			l.inflight.Done()
			l.dropped.Add(1)
			if !errors.Is(err, ants.ErrPoolClosed) {
				l.log.WithError(err).Warn("Failed to dispatch request log")
			}
		}
	}
}

func (l *Logger) work(arg interface{}) {
	defer l.inflight.Done()

	rec, ok := arg.(Record)
	if !ok {
		return
	}
	l.write(rec)
}

func (l *Logger) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
	defer cancel()

	loc := l.resolver.Resolve(ctx, rec.IP)

	entry := models.RequestLog{
		Path:      truncatePath(rec.Path),
		Timestamp: l.now().UTC(),
		Country:   loc.Country,
		City:      loc.City,
	}
	if ip, err := ipaddr.Parse(rec.IP); err == nil {
		entry.IP = &ip
	}

	if err := l.sink.Create(ctx, &entry); err != nil {
		l.log.WithFields(logrus.Fields{
			"client_ip": rec.IP,
			"path":      rec.Path,
		}).WithError(err).Error("Failed to save request log")
		return
	}
	l.log.WithFields(logrus.Fields{
		"client_ip": rec.IP,
		"path":      entry.Path,
	}).Debug("Logged request")
}

func truncatePath(path string) string {
	if len(path) <= maxPathLength {
		return path
	}
	cut := maxPathLength
	for cut > 0 && !utf8.RuneStart(path[cut]) {
		cut--
	}
	return path[:cut]
}
