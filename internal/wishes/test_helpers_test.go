package wishes

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/secrets"
	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var testEpoch = time.Unix(1700000000, 0).UTC()

type manualTimers struct {
	mu      sync.Mutex
	elapsed time.Duration
	timers  []*manualTimer
}

type manualTimer struct {
	owner   *manualTimers
	due     time.Duration
	task    func()
	stopped bool
	fired   bool
}

func (m *manualTimers) Arm(delay time.Duration, task func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	timer := &manualTimer{owner: m, due: m.elapsed + delay, task: task}
	m.timers = append(m.timers, timer)
	return timer
}

func (m *manualTimers) Advance(delay time.Duration) {
	m.mu.Lock()
	m.elapsed += delay
	var due []*manualTimer
	for _, timer := range m.timers {
		if !timer.stopped && !timer.fired && timer.due <= m.elapsed {
			timer.fired = true
			due = append(due, timer)
		}
	}
	m.mu.Unlock()

	for _, timer := range due {
		timer.task()
	}
}

func (m *manualTimers) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := 0
	for _, timer := range m.timers {
		if !timer.stopped && !timer.fired {
			active++
		}
	}
	return active
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type memoryReplica struct {
	mu      sync.Mutex
	records []any
	loadErr error
	saveErr error
	saves   [][]Wish
}

func (r *memoryReplica) Load(context.Context) ([]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return append([]any(nil), r.records...), nil
}

func (r *memoryReplica) Save(_ context.Context, wishes []Wish) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, append([]Wish(nil), wishes...))
	return r.saveErr
}

func (r *memoryReplica) SaveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *memoryReplica) LastSave() []Wish {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saves) == 0 {
		return nil
	}
	return r.saves[len(r.saves)-1]
}

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("wish-%d", p.next), nil
}

type storeFixture struct {
	store  *Store
	local  *memoryReplica
	remote *memoryReplica
	timers *manualTimers
}

func newStoreFixture(t *testing.T) storeFixture {
	t.Helper()
	local := &memoryReplica{}
	remote := &memoryReplica{}
	timers := &manualTimers{}
	store, err := NewStore(StoreConfig{
		Local:      local,
		Remote:     remote,
		Scheduler:  NewDebouncer(DefaultDebounceWindow, timers.Arm),
		Hasher:     mustHasher(t),
		Clock:      func() time.Time { return testEpoch },
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return storeFixture{store: store, local: local, remote: remote, timers: timers}
}

func mustHasher(t *testing.T) *secrets.Hasher {
	t.Helper()
	hasher, err := secrets.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to build hasher: %v", err)
	}
	return hasher
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "wishes.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Blob{}); err != nil {
		t.Fatalf("failed to migrate blob schema: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}
