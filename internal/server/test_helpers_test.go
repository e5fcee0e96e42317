package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/guard"
	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/secrets"
	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/wishes"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(delta time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(delta)
	c.mu.Unlock()
}

type serverFixture struct {
	handler    http.Handler
	db         *gorm.DB
	store      *wishes.Store
	guard      *guard.Guard
	realtime   *RealtimeDispatcher
	clock      *manualClock
	remoteAddr string
}

type fixtureOption func(*Dependencies)

func newServerFixture(t *testing.T, options ...fixtureOption) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "wishtree.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&wishes.Blob{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	clock := newManualClock()
	local, err := wishes.NewLocalReplica(wishes.LocalReplicaConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build local replica: %v", err)
	}
	hasher, err := secrets.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to build hasher: %v", err)
	}
	store, err := wishes.NewStore(wishes.StoreConfig{
		Local:  local,
		Hasher: hasher,
		Clock:  clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	accessGuard := guard.New(guard.Config{Clock: clock.Now})
	realtime := NewRealtimeDispatcher()
	deps := Dependencies{
		Store:          store,
		Guard:          accessGuard,
		Realtime:       realtime,
		RateLimiter:    NewRateLimiter(RateLimitConfig{Requests: 1000, Window: time.Minute, Clock: clock.Now}),
		AllowedOrigins: []string{"https://wishes.example.com"},
		Clock:          clock.Now,
	}
	for _, option := range options {
		option(&deps)
	}

	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return &serverFixture{
		handler:    handler,
		db:         db,
		store:      store,
		guard:      accessGuard,
		realtime:   realtime,
		clock:      clock,
		remoteAddr: "192.0.2.10:40000",
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.RemoteAddr = f.remoteAddr
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

type errorResponse struct {
	Error        string `json:"error"`
	RetryAfterMs int64  `json:"retry_after_ms"`
}

func (f *serverFixture) createWish(t *testing.T, payload map[string]any) wishView {
	t.Helper()
	recorder := f.do(t, http.MethodPost, "/api/wishes", payload)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response wishResponsePayload
	decodeBody(t, recorder, &response)
	return response.Wish
}
