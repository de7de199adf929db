package auth

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testConfig() Config {
	cfg := DefaultConfig()
	// Cheap hashing keeps the suite fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Authorization = AuthorizationConfig{
		Groups: map[string][]string{
			"admin": {"users.*", "beta.access"},
			"user":  {"posts.read", "posts.write"},
		},
		Permissions: []string{"beta.access", "posts.moderate"},
	}
	return cfg
}

type fixture struct {
	engine   *Engine
	redis    *miniredis.Miniredis
	users    *fakeUsers
	idents   *fakeIdentities
	remember *fakeRemembers
	groups   *fakeGroups
	recorder *fakeRecorder
	clock    *fakeClock
}

func newTestEngine(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		redis:    mr,
		users:    newFakeUsers(),
		idents:   newFakeIdentities(),
		remember: newFakeRemembers(),
		groups:   newFakeGroups(),
		recorder: &fakeRecorder{},
		clock:    &fakeClock{now: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(f.users).
		WithIdentityStore(f.idents).
		WithRememberStore(f.remember).
		WithGroupStore(f.groups).
		WithRecorder(f.recorder).
		WithClock(f.clock).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	f.engine = engine
	return f
}

// seedUser registers an active account with the given password.
func (f *fixture) seedUser(t *testing.T, email, plain string) *User {
	t.Helper()

	user := &User{Username: email, Email: email}
	if err := f.engine.Register(context.Background(), user, plain); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return user
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeUsers struct {
	mu   sync.Mutex
	byID map[string]*User
	seq  int

	// findErr, when set, makes every lookup fail with it.
	findErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]*User{}}
}

func (m *fakeUsers) failFinds(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findErr = err
}

func (m *fakeUsers) FindByID(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.byID[id]
	if !ok || !u.DeletedAt.IsZero() {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *fakeUsers) FindByCredentials(ctx context.Context, creds Credentials) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, u := range m.byID {
		if !u.DeletedAt.IsZero() {
			continue
		}
		if email, ok := creds["email"]; ok && !strings.EqualFold(u.Email, email) {
			continue
		}
		if username, ok := creds["username"]; ok && u.Username != username {
			continue
		}
		cp := *u
		return &cp, nil
	}
	return nil, ErrUserNotFound
}

func (m *fakeUsers) Save(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		m.seq++
		u.ID = "u" + strconv.Itoa(m.seq)
	}
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

// mutate edits the stored record in place, bypassing Save.
func (m *fakeUsers) mutate(id string, fn func(*User)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		fn(u)
	}
}

type fakeIdentities struct {
	mu   sync.Mutex
	byID map[string]*Identity
	seq  int
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{byID: map[string]*Identity{}}
}

func (m *fakeIdentities) Create(ctx context.Context, ident *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ident.ID == "" {
		m.seq++
		ident.ID = "i" + strconv.Itoa(m.seq)
	}
	cp := *ident
	m.byID[ident.ID] = &cp
	return nil
}

func (m *fakeIdentities) Update(ctx context.Context, ident *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[ident.ID]; !ok {
		return ErrIdentityNotFound
	}
	cp := *ident
	m.byID[ident.ID] = &cp
	return nil
}

func (m *fakeIdentities) GetByKind(ctx context.Context, userID string, kind IdentityKind) (*Identity, error) {
	all, err := m.GetAllByKinds(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrIdentityNotFound
	}
	return &all[0], nil
}

func (m *fakeIdentities) GetAllByKinds(ctx context.Context, userID string, kinds ...IdentityKind) ([]Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Identity
	for _, kind := range kinds {
		var batch []Identity
		for _, ident := range m.byID {
			if ident.UserID == userID && ident.Kind == kind {
				batch = append(batch, *ident)
			}
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
		out = append(out, batch...)
	}
	return out, nil
}

func (m *fakeIdentities) FindBySecret(ctx context.Context, kind IdentityKind, secret string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.byID {
		if ident.Kind == kind && ident.Secret == secret {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (m *fakeIdentities) DeleteByKind(ctx context.Context, userID string, kind IdentityKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ident := range m.byID {
		if ident.UserID == userID && ident.Kind == kind {
			delete(m.byID, id)
		}
	}
	return nil
}

func (m *fakeIdentities) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return false, nil
	}
	delete(m.byID, id)
	return true, nil
}

func (m *fakeIdentities) Touch(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	ident.LastUsedAt = at
	return nil
}

type fakeRemembers struct {
	mu         sync.Mutex
	bySelector map[string]*RememberToken
}

func newFakeRemembers() *fakeRemembers {
	return &fakeRemembers{bySelector: map[string]*RememberToken{}}
}

func (m *fakeRemembers) Save(ctx context.Context, tok *RememberToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tok
	m.bySelector[tok.Selector] = &cp
	return nil
}

func (m *fakeRemembers) FindBySelector(ctx context.Context, selector string) (*RememberToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.bySelector[selector]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *fakeRemembers) Rotate(ctx context.Context, selector, oldHash, newHash string, expires time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.bySelector[selector]
	if !ok || tok.HashedValidator != oldHash {
		return false, nil
	}
	tok.HashedValidator = newHash
	tok.Expires = expires
	return true, nil
}

func (m *fakeRemembers) DeleteBySelector(ctx context.Context, selector string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bySelector, selector)
	return nil
}

func (m *fakeRemembers) DeleteForUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sel, tok := range m.bySelector {
		if tok.UserID == userID {
			delete(m.bySelector, sel)
		}
	}
	return nil
}

func (m *fakeRemembers) PurgeExpired(ctx context.Context) error {
	return nil
}

func (m *fakeRemembers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bySelector)
}

type fakeGroups struct {
	mu     sync.Mutex
	groups map[string][]string
	perms  map[string][]string
}

func newFakeGroups() *fakeGroups {
	return &fakeGroups{groups: map[string][]string{}, perms: map[string][]string{}}
}

func (m *fakeGroups) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.groups[userID]...), nil
}

func (m *fakeGroups) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.perms[userID]...), nil
}

func (m *fakeGroups) AddGroups(ctx context.Context, userID string, groups []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[userID] = append(m.groups[userID], groups...)
	return nil
}

func (m *fakeGroups) RemoveGroups(ctx context.Context, userID string, groups []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[userID] = remove(m.groups[userID], groups)
	return nil
}

func (m *fakeGroups) AddPermissions(ctx context.Context, userID string, perms []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perms[userID] = append(m.perms[userID], perms...)
	return nil
}

func (m *fakeGroups) RemovePermissions(ctx context.Context, userID string, perms []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perms[userID] = remove(m.perms[userID], perms)
	return nil
}

func remove(have, drop []string) []string {
	var out []string
	for _, h := range have {
		keep := true
		for _, d := range drop {
			if h == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, h)
		}
	}
	return out
}

type fakeRecorder struct {
	mu       sync.Mutex
	attempts []LoginAttempt
}

func (m *fakeRecorder) Record(ctx context.Context, attempt LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
	return nil
}

func (m *fakeRecorder) recorded() []LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LoginAttempt(nil), m.attempts...)
}

// fakeSink records cookie writes.
type fakeSink struct {
	mu      sync.Mutex
	cookies map[string]string
}

func newFakeSink() *fakeSink {
	return &fakeSink{cookies: map[string]string{}}
}

func (s *fakeSink) SetCookie(name, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies[name] = value
}

func (s *fakeSink) DeleteCookie(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cookies, name)
}

func (s *fakeSink) get(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookies[name]
}

// memState is a plain in-memory SessionState.
type memState struct {
	id     string
	values map[string]string
	regens int
}

func newMemState() *memState {
	return &memState{id: "sess-1", values: map[string]string{}}
}

func (s *memState) ID() string { return s.id }

func (s *memState) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *memState) Set(key, value string) { s.values[key] = value }

func (s *memState) Remove(key string) { delete(s.values, key) }

func (s *memState) RegenerateID() error {
	s.regens++
	s.id = "sess-" + strconv.Itoa(s.regens+1)
	return nil
}
