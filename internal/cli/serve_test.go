package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/traffic-guard/internal/database/dbtest"
	"github.com/sdko-org/traffic-guard/internal/gate"
	"github.com/sdko-org/traffic-guard/internal/geo"
	"github.com/sdko-org/traffic-guard/internal/handlers"
	"github.com/sdko-org/traffic-guard/internal/ipaddr"
	"github.com/sdko-org/traffic-guard/internal/models"
	"github.com/sdko-org/traffic-guard/internal/ratelimit"
	"github.com/sdko-org/traffic-guard/internal/reqlog"
	"github.com/sdko-org/traffic-guard/internal/store"
)

type fixedProvider struct {
	calls atomic.Int32
}

func (p *fixedProvider) Lookup(context.Context, string) (geo.Location, error) {
	p.calls.Add(1)
	return geo.NewLocation("Testland", "Testville"), nil
}

func TestBlockedAddressIsRejectedAndNotLogged(t *testing.T) {
	testLogger := logrus.New()
	testLogger.SetOutput(io.Discard)

	db := dbtest.Open(t)
	blocklist := store.NewBlocklist(db)
	requestLogs := store.NewRequestLogs(db)

	var out bytes.Buffer
	if err := runBlockIP(context.Background(), &out, blocklist, "10.0.0.5", ""); err != nil {
		t.Fatalf("block: %v", err)
	}

	clientIPs, err := ipaddr.NewResolver(nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	cache := gate.NewCache(testLogger, blocklist, 300*time.Second, nil)
	provider := &fixedProvider{}
	resolver := geo.NewResolver(testLogger, provider, geo.NewMemoryCache(), time.Hour)
	rl, err := reqlog.New(testLogger, resolver, requestLogs, reqlog.Options{QueueSize: 16, Workers: 2})
	if err != nil {
		t.Fatalf("reqlog.New: %v", err)
	}

	handler := buildHandler(
		gate.New(testLogger, cache, clientIPs),
		rl,
		handlers.NewHandler(testLogger, requestLogs, store.NewSuspicious(db), blocklist),
		ratelimit.New(testLogger, ratelimit.DefaultPolicies(), nil, clientIPs),
	)

	blocked := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	blocked.RemoteAddr = "10.0.0.5:41000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, blocked)
	if w.Code != http.StatusForbidden {
		t.Fatalf("blocked status = %d, want 403", w.Code)
	}
	if got := w.Body.String(); got != gate.ForbiddenBody+"\n" {
		t.Fatalf("blocked body = %q", got)
	}

	allowed := httptest.NewRequest(http.MethodGet, "/login", nil)
	allowed.RemoteAddr = "203.0.113.20:41000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, allowed)
	if w.Code != http.StatusOK {
		t.Fatalf("allowed status = %d, want 200", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rl.Close(ctx); err != nil {
		t.Fatalf("close logger: %v", err)
	}

	var rows []models.RequestLog
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("load request logs: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("request logs = %v, want only the admitted request", rows)
	}
	if rows[0].IP == nil || *rows[0].IP != "203.0.113.20" || rows[0].Path != "/login" {
		t.Fatalf("row = %v", rows[0])
	}
	if rows[0].Country == nil || *rows[0].Country != "Testland" {
		t.Fatalf("country = %v", rows[0].Country)
	}
	if provider.calls.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.calls.Load())
	}
}
