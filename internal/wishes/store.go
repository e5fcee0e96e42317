package wishes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/secrets"
	"go.uber.org/zap"
)

// DefaultDebounceWindow is the quiet period before a remote write is sent.
const DefaultDebounceWindow = 500 * time.Millisecond

// Load sources reported by Store.Load.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
	SourceEmpty  = "empty"
)

var (
	errMissingLocalReplica = errors.New("local replica is required")
	noOpLogger             = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew     = "wishes.store.new"
	opLoad         = "wishes.load"
	opAdd          = "wishes.add"
	opEdit         = "wishes.edit"
	opDelete       = "wishes.delete"
	opPersistLocal = "wishes.persist_local"
	opPersistRmt   = "wishes.persist_remote"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// SecretHasher turns a plaintext password into its stored form.
type SecretHasher interface {
	Hash(plain string) (string, error)
}

// Scheduler defers the remote write. Debouncer is the production implementation.
type Scheduler interface {
	Schedule(task func())
	Flush()
	Stop()
}

type StoreConfig struct {
	Local      Replica
	Remote     Replica
	Scheduler  Scheduler
	Hasher     SecretHasher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store owns the authoritative in-memory wish collection. The two replicas
// only mirror it; a remote outage never blocks a mutation.
type Store struct {
	mu        sync.Mutex
	wishes    []Wish
	local     Replica
	remote    Replica
	scheduler Scheduler
	hasher    SecretHasher
	sanitizer *Sanitizer
	clock     func() time.Time
	logger    *zap.Logger
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Local == nil {
		return nil, newServiceError(opStoreNew, "missing_local_replica", errMissingLocalReplica)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = NewDebouncer(DefaultDebounceWindow, nil)
	}

	hasher := cfg.Hasher
	if hasher == nil {
		defaultHasher, err := secrets.NewHasher(secrets.DefaultCost)
		if err != nil {
			return nil, newServiceError(opStoreNew, "hasher_failed", err)
		}
		hasher = defaultHasher
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		wishes:    []Wish{},
		local:     cfg.Local,
		remote:    cfg.Remote,
		scheduler: scheduler,
		hasher:    hasher,
		sanitizer: NewSanitizer(clock, cfg.IDProvider),
		clock:     clock,
		logger:    logger,
	}, nil
}

// Sanitize exposes the store's sanitizer so callers can normalize input the same way.
func (s *Store) Sanitize(input any) Wish {
	return s.sanitizer.Sanitize(input)
}

// Load replaces the in-memory collection with the remote replica's content,
// falling back to the local replica and then to an empty collection. It
// never fails; every problem is logged. The returned value names the source.
func (s *Store) Load(ctx context.Context) string {
	source := SourceEmpty
	var records []any

	if s.remote != nil {
		remoteRecords, err := s.remote.Load(ctx)
		if err != nil {
			s.logReplicaError(opLoad, "remote_load_failed", err)
		} else if len(remoteRecords) > 0 {
			records = remoteRecords
			source = SourceRemote
		}
	}

	if len(records) == 0 {
		localRecords, err := s.local.Load(ctx)
		if err != nil {
			s.logReplicaError(opLoad, "local_load_failed", err)
		} else if len(localRecords) > 0 {
			records = localRecords
			source = SourceLocal
		}
	}

	adopted, migrated := s.adopt(records)

	s.mu.Lock()
	s.wishes = adopted
	if migrated > 0 {
		s.logger.Info("hashed legacy wish passwords", zap.Int("count", migrated))
		s.persistLocked()
	}
	s.mu.Unlock()

	s.logger.Info("wishes loaded", zap.String("source", source), zap.Int("count", len(adopted)))
	return source
}

func (s *Store) adopt(records []any) ([]Wish, int) {
	adopted := make([]Wish, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	migrated := 0

	for _, record := range records {
		if len(adopted) >= MaxWishes {
			s.logger.Warn("dropping wishes beyond collection cap", zap.Int("cap", MaxWishes), zap.Int("records", len(records)))
			break
		}
		wish := s.sanitizer.Sanitize(record)
		if _, duplicate := seen[wish.ID]; duplicate {
			s.logger.Warn("dropping duplicate wish id", zap.String("wish_id", wish.ID))
			continue
		}
		seen[wish.ID] = struct{}{}

		if wish.Password != "" && !secrets.IsHashed(wish.Password) {
			hashed, err := s.hasher.Hash(wish.Password)
			if err != nil {
				s.logError(opLoad, "hash_failed", err, zap.String("wish_id", wish.ID))
			} else {
				wish.Password = hashed
				migrated++
			}
		}
		adopted = append(adopted, wish)
	}
	return adopted, migrated
}

// Add places a new wish. The id and creation time are always assigned here.
func (s *Store) Add(draft Draft) (Wish, error) {
	password, err := s.hashDraftPassword(opAdd, draft.Password)
	if err != nil {
		return Wish{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.wishes) >= MaxWishes {
		return Wish{}, newServiceError(opAdd, "collection_full", ErrCollectionFull)
	}

	wish := s.sanitizer.Sanitize(Wish{
		ID:        s.sanitizer.newID(),
		CreatedAt: s.clock().UnixMilli(),
		Message:   draft.Message,
		Author:    draft.Author,
		Color:     draft.Color,
		X:         draft.X,
		Y:         draft.Y,
		Password:  password,
	})
	s.wishes = append(s.wishes, wish)
	s.persistLocked()
	return wish, nil
}

// Edit replaces the wish with the given id in place, keeping its id and
// creation time. The password changes only when the draft carries one.
// An unknown id is a no-op reported as false. A non-nil check runs against
// the current wish before anything changes.
func (s *Store) Edit(id string, draft Draft, check Precondition) (Wish, bool, error) {
	password, err := s.hashDraftPassword(opEdit, draft.Password)
	if err != nil {
		return Wish{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexLocked(id)
	if index < 0 {
		return Wish{}, false, nil
	}

	existing := s.wishes[index]
	if check != nil {
		if err := check(existing); err != nil {
			return Wish{}, true, newServiceError(opEdit, "precondition_failed", err)
		}
	}
	if password == "" {
		password = existing.Password
	}
	updated := s.sanitizer.Sanitize(Wish{
		ID:        existing.ID,
		CreatedAt: existing.CreatedAt,
		Message:   draft.Message,
		Author:    draft.Author,
		Color:     draft.Color,
		X:         draft.X,
		Y:         draft.Y,
		Password:  password,
	})
	s.wishes[index] = updated
	s.persistLocked()
	return updated, true, nil
}

// Delete removes the wish with the given id. An unknown id is a no-op reported
// as false. A non-nil check runs against the current wish before removal.
func (s *Store) Delete(id string, check Precondition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexLocked(id)
	if index < 0 {
		return false, nil
	}
	if check != nil {
		if err := check(s.wishes[index]); err != nil {
			return true, newServiceError(opDelete, "precondition_failed", err)
		}
	}
	s.wishes = append(s.wishes[:index:index], s.wishes[index+1:]...)
	s.persistLocked()
	return true, nil
}

// Get returns a copy of the wish with the given id.
func (s *Store) Get(id string) (Wish, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexLocked(id)
	if index < 0 {
		return Wish{}, false
	}
	return s.wishes[index], true
}

// List returns a copy of the collection in insertion order.
func (s *Store) List() []Wish {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Flush sends a pending remote write immediately. Used on shutdown.
func (s *Store) Flush() {
	s.scheduler.Flush()
}

func (s *Store) indexLocked(id string) int {
	for index := range s.wishes {
		if s.wishes[index].ID == id {
			return index
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []Wish {
	snapshot := make([]Wish, len(s.wishes))
	copy(snapshot, s.wishes)
	return snapshot
}

// persistLocked writes the local replica now and replaces any pending remote
// write with one carrying the current snapshot.
func (s *Store) persistLocked() {
	snapshot := s.snapshotLocked()

	if err := s.local.Save(context.Background(), snapshot); err != nil {
		s.logError(opPersistLocal, "save_failed", err, zap.Int("count", len(snapshot)))
	}

	if s.remote == nil {
		return
	}
	remote := s.remote
	s.scheduler.Schedule(func() {
		if err := remote.Save(context.Background(), snapshot); err != nil {
			s.logReplicaError(opPersistRmt, "save_failed", err, zap.Int("count", len(snapshot)))
			return
		}
		s.logger.Debug("remote replica updated", zap.Int("count", len(snapshot)))
	})
}

func (s *Store) hashDraftPassword(operation, plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	hashed, err := s.hasher.Hash(plain)
	if err != nil {
		s.logError(operation, "hash_failed", err)
		return "", newServiceError(operation, "hash_failed", err)
	}
	return hashed, nil
}

func (s *Store) logReplicaError(operation, reason string, err error, fields ...zap.Field) {
	if errors.Is(err, ErrReplicaNotConfigured) {
		s.loggerOrDefault().Debug("replica not configured",
			append([]zap.Field{zap.String("operation", operation)}, fields...)...)
		return
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.loggerOrDefault().Warn("wish replica error", append(attrs, fields...)...)
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("wishes store error", attrs...)
}
