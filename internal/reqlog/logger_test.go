package reqlog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/traffic-guard/internal/geo"
	"github.com/sdko-org/traffic-guard/internal/ipaddr"
	"github.com/sdko-org/traffic-guard/internal/models"
)

type staticResolver struct {
	loc   geo.Location
	panic bool
}

func (s staticResolver) Resolve(context.Context, string) geo.Location {
	if s.panic {
		panic("resolver exploded")
	}
	return s.loc
}

type memorySink struct {
	mu      sync.Mutex
	entries []models.RequestLog
	err     error
	started chan struct{}
	gate    chan struct{}
}

func (m *memorySink) Create(_ context.Context, entry *models.RequestLog) error {
	if m.started != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
	}
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memorySink) paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Path)
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func closeLogger(t *testing.T, l *Logger) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestLoggerWritesEnrichedEntry(t *testing.T) {
	sink := &memorySink{}
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l, err := New(quietLogger(), staticResolver{loc: geo.NewLocation("Peru", "Lima")}, sink, Options{
		Workers: 2,
		Now:     func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Enqueue(Record{IP: "203.0.113.7", Path: "/login"})
	closeLogger(t, l)

	if len(sink.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(sink.entries))
	}
	e := sink.entries[0]
	if e.IP == nil || *e.IP != "203.0.113.7" || e.Path != "/login" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Country == nil || *e.Country != "Peru" || e.City == nil || *e.City != "Lima" {
		t.Fatalf("geo fields = %v/%v", e.Country, e.City)
	}
	if !e.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp = %v, want %v", e.Timestamp, fixed)
	}
}

func TestLoggerEmptyIPStoredAsNull(t *testing.T) {
	sink := &memorySink{}
	l, err := New(quietLogger(), staticResolver{}, sink, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Enqueue(Record{Path: "/"})
	closeLogger(t, l)

	if len(sink.entries) != 1 || sink.entries[0].IP != nil {
		t.Fatalf("entries = %+v", sink.entries)
	}
}

func TestLoggerInvalidIPStoredAsNull(t *testing.T) {
	sink := &memorySink{}
	l, err := New(quietLogger(), staticResolver{}, sink, Options{Workers: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Enqueue(Record{IP: "not-an-ip", Path: "/a"})
	l.Enqueue(Record{IP: strings.Repeat("x", 60), Path: "/b"})
	l.Enqueue(Record{IP: "fe80::1%eth0", Path: "/c"})
	closeLogger(t, l)

	if len(sink.entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(sink.entries))
	}
	for _, e := range sink.entries {
		if e.IP != nil {
			t.Errorf("%s: ip = %q, want null", e.Path, *e.IP)
		}
	}
}

func TestLoggerContainsFailures(t *testing.T) {
	sink := &memorySink{err: errors.New("db unavailable")}
	l, err := New(quietLogger(), staticResolver{}, sink, Options{Workers: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Enqueue(Record{IP: "203.0.113.7", Path: "/"})
	closeLogger(t, l)

	panicky, err := New(quietLogger(), staticResolver{panic: true}, &memorySink{}, Options{Workers: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	panicky.Enqueue(Record{IP: "203.0.113.7", Path: "/"})
	closeLogger(t, panicky)
}

func TestLoggerDropsOldestWhenFull(t *testing.T) {
	sink := &memorySink{started: make(chan struct{}, 1), gate: make(chan struct{})}
	l, err := New(quietLogger(), staticResolver{}, sink, Options{Workers: 1, QueueSize: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Enqueue(Record{Path: "/1"})
	select {
	case <-sink.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up first record")
	}

	// The dispatcher takes /2 off the queue and waits for the busy worker.
	l.Enqueue(Record{Path: "/2"})
	waitFor(t, func() bool { return l.pool.Waiting() == 1 })

	l.Enqueue(Record{Path: "/3"})
	l.Enqueue(Record{Path: "/4"})
	l.Enqueue(Record{Path: "/5"})

	if got := l.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}

	close(sink.gate)
	closeLogger(t, l)

	got := strings.Join(sink.paths(), ",")
	if got != "/1,/2,/4,/5" {
		t.Fatalf("written = %s, want /1,/2,/4,/5", got)
	}
}

func TestLoggerEnqueueAfterClose(t *testing.T) {
	sink := &memorySink{}
	l, err := New(quietLogger(), staticResolver{}, sink, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	closeLogger(t, l)
	closeLogger(t, l)

	l.Enqueue(Record{Path: "/late"})
	if l.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", l.Dropped())
	}
	if len(sink.entries) != 0 {
		t.Fatal("record written after close")
	}
}

func TestMiddlewareLogsAfterResponse(t *testing.T) {
	sink := &memorySink{}
	l, err := New(quietLogger(), staticResolver{}, sink, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest("GET", "/admin", nil)
	req = req.WithContext(ipaddr.WithClientIP(req.Context(), "198.51.100.3"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	closeLogger(t, l)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(sink.entries))
	}
	if e := sink.entries[0]; e.IP == nil || *e.IP != "198.51.100.3" || e.Path != "/admin" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestTruncatePath(t *testing.T) {
	long := "/" + strings.Repeat("a", 300)
	if got := truncatePath(long); len(got) != maxPathLength {
		t.Fatalf("len = %d, want %d", len(got), maxPathLength)
	}

	multibyte := "/" + strings.Repeat("é", 200)
	got := truncatePath(multibyte)
	if len(got) > maxPathLength || !strings.HasPrefix(multibyte, got) {
		t.Fatalf("bad truncation: len %d", len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a rune")
	}

	if truncatePath("/short") != "/short" {
		t.Fatal("short path changed")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
