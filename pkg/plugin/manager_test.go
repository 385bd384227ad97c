package plugin

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPlugin has no hooks.
type stubPlugin struct {
	id     int64
	name   string
	config map[string]any
	inits  int
}

func (p *stubPlugin) ID() int64                  { return p.id }
func (p *stubPlugin) Name() string               { return p.name }
func (p *stubPlugin) Capabilities() []Capability { return []Capability{CapabilityDisplayer} }
func (p *stubPlugin) Init(opts InitOptions) error {
	p.inits++
	p.config = opts.Config
	return nil
}

// hookPlugin reacts to message.create through fn.
type hookPlugin struct {
	stubPlugin
	fn func(ctx context.Context, pctx Context) error
}

func (p *hookPlugin) OnMessageCreate(ctx context.Context, pctx Context) error {
	return p.fn(ctx, pctx)
}

type failingInitPlugin struct {
	stubPlugin
	panics bool
}

func (p *failingInitPlugin) Init(InitOptions) error {
	if p.panics {
		panic("init exploded")
	}
	return errors.New("bad config")
}

func (p *failingInitPlugin) OnMessageCreate(context.Context, Context) error { return nil }

type fakeStore struct {
	mu          sync.Mutex
	users       map[int64]User
	permitted   map[int64][]string
	configs     []PluginConfig
	logs        []PluginLog
	logErr      error
	configReads int
	onConfigs   func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]User{}, permitted: map[int64][]string{}}
}

func (s *fakeStore) User(_ context.Context, userID int64) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *fakeStore) PermittedModules(_ context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.permitted[userID]...), nil
}

func (s *fakeStore) EnabledConfigs(_ context.Context, userID int64) ([]PluginConfig, error) {
	s.mu.Lock()
	s.configReads++
	var rows []PluginConfig
	for _, row := range s.configs {
		if row.UserID == userID && row.Enabled {
			rows = append(rows, row)
		}
	}
	hook := s.onConfigs
	s.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	if hook != nil {
		hook()
	}
	return rows, nil
}

func (s *fakeStore) InsertLog(_ context.Context, entry PluginLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logErr != nil {
		return s.logErr
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *fakeStore) addConfig(id, userID int64, module, yaml string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, PluginConfig{ID: id, UserID: userID, Name: module, ModulePath: module, ConfigYAML: yaml, Enabled: true})
}

func (s *fakeStore) entries() []PluginLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PluginLog(nil), s.logs...)
}

type recordingObserver struct {
	mu         sync.Mutex
	executions []Status
	hits       int
	misses     int
	initFailed []string
}

func (o *recordingObserver) PluginExecuted(_ Event, status Status, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executions = append(o.executions, status)
}

func (o *recordingObserver) CacheLookup(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *recordingObserver) InitFailed(modulePath string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.initFailed = append(o.initFailed, modulePath)
}

type recordingPublisher struct {
	mu    sync.Mutex
	users []int64
	err   error
}

func (p *recordingPublisher) PublishInvalidation(_ context.Context, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, userID)
	return p.err
}

// testRegistry registers modules whose hook behaviour is looked up by row id.
func testRegistry(t *testing.T, calls *[]int64, behaviours map[int64]func() error) *Registry {
	t.Helper()
	var mu sync.Mutex
	reg := NewRegistry()
	require.NoError(t, reg.Register("test/hook", func(id int64, name string) ExecutablePlugin {
		return &hookPlugin{
			stubPlugin: stubPlugin{id: id, name: name},
			fn: func(context.Context, Context) error {
				mu.Lock()
				*calls = append(*calls, id)
				mu.Unlock()
				if b, ok := behaviours[id]; ok {
					return b()
				}
				return nil
			},
		}
	}))
	require.NoError(t, reg.Register("test/plain", func(id int64, name string) ExecutablePlugin {
		return &stubPlugin{id: id, name: name}
	}))
	require.NoError(t, reg.Register("test/init-error", func(id int64, name string) ExecutablePlugin {
		return &failingInitPlugin{stubPlugin: stubPlugin{id: id, name: name}}
	}))
	require.NoError(t, reg.Register("test/init-panic", func(id int64, name string) ExecutablePlugin {
		return &failingInitPlugin{stubPlugin: stubPlugin{id: id, name: name}, panics: true}
	}))
	return reg
}

func newTestManager(t *testing.T, reg *Registry, store *fakeStore, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(reg, store, opts...)
	require.NoError(t, err)
	return m
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	_, err := NewManager(nil, newFakeStore())
	assert.Error(t, err)
	_, err = NewManager(NewRegistry(), nil)
	assert.Error(t, err)
}

func TestEmitLogsOneEntryPerHandler(t *testing.T) {
	var calls []int64
	reg := testRegistry(t, &calls, map[int64]func() error{
		3: func() error { return errors.New("boom") },
	})
	store := newFakeStore()
	store.users[1] = User{ID: 1, Admin: true}
	store.addConfig(1, 1, "test/hook", "")
	store.addConfig(2, 1, "test/plain", "")
	store.addConfig(3, 1, "test/hook", "")
	store.addConfig(4, 1, "test/hook", "")
	observer := &recordingObserver{}
	m := newTestManager(t, reg, store, WithObserver(observer))

	m.Emit(context.Background(), 1, EventMessageCreate, messageContext())

	assert.Equal(t, []int64{1, 3, 4}, calls)
	logs := store.entries()
	require.Len(t, logs, 3)
	assert.Equal(t, int64(1), logs[0].PluginID)
	assert.Equal(t, StatusOK, logs[0].Status)
	assert.Equal(t, int64(3), logs[1].PluginID)
	assert.Equal(t, StatusError, logs[1].Status)
	assert.Equal(t, "boom", logs[1].Error)
	assert.Equal(t, StatusOK, logs[2].Status)
	for _, entry := range logs {
		assert.Equal(t, int64(1), entry.UserID)
		assert.Equal(t, EventMessageCreate, entry.Event)
	}
	assert.Equal(t, []Status{StatusOK, StatusError, StatusOK}, observer.executions)

	// 没有对应处理器的事件不产生日志。
	m.Emit(context.Background(), 1, EventClientCreate, Context{UserID: 1, Client: &Client{ID: 1}})
	assert.Len(t, store.entries(), 3)
}

func TestEmitRecoversHandlerPanics(t *testing.T) {
	var calls []int64
	reg := testRegistry(t, &calls, map[int64]func() error{
		1: func() error { panic("handler exploded") },
	})
	store := newFakeStore()
	store.users[1] = User{ID: 1, Admin: true}
	store.addConfig(1, 1, "test/hook", "")
	store.addConfig(2, 1, "test/hook", "")
	m := newTestManager(t, reg, store)

	assert.NotPanics(t, func() {
		m.Emit(context.Background(), 1, EventMessageCreate, messageContext())
	})
	assert.Equal(t, []int64{1, 2}, calls)
	logs := store.entries()
	require.Len(t, logs, 2)
	assert.Equal(t, StatusError, logs[0].Status)
	assert.Contains(t, logs[0].Error, "handler exploded")
	assert.Equal(t, StatusOK, logs[1].Status)
}

func TestEmitEmptyErrorMessage(t *testing.T) {
	var calls []int64
	reg := testRegistry(t, &calls, map[int64]func() error{
		1: func() error { return errors.New("") },
	})
	store := newFakeStore()
	store.users[1] = User{ID: 1, Admin: true}
	store.addConfig(1, 1, "test/hook", "")
	m := newTestManager(t, reg, store)

	m.Emit(context.Background(), 1, EventMessageCreate, messageContext())
	logs := store.entries()
	require.Len(t, logs, 1)
	assert.Equal(t, StatusError, logs[0].Status)
	assert.NotEmpty(t, logs[0].Error)
}

func TestEmitSwallowsLogWriteFailures(t *testing.T) {
	var calls []int64
	reg := testRegistry(t, &calls, nil)
	store := newFakeStore()
	store.users[1] = User{ID: 1, Admin: true}
	store.addConfig(1, 1, "test/hook", "")
	store.addConfig(2, 1, "test/hook", "")
	store.logErr = errors.New("disk full")
	m := newTestManager(t, reg, store)

	assert.NotPanics(t, func() {
		m.Emit(context.Background(), 1, EventMessageCreate, messageContext())
	})
	assert.Equal(t, []int64{1, 2}, calls)
	assert.Empty(t, store.entries())
}

func TestEmitRecordsDuration(t *testing.T) {
	var calls []int64
	reg := testRegistry(t, &calls, nil)
	store := newFakeStore()
	store.users[1] = User{ID: 1, Admin: true}
	store.addConfig(1, 1, "test/hook", "")

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick*5) * time.Millisecond)
	}
	m := newTestManager(t, reg, store, WithClock(clock))

	m.Emit(context.Background(), 1, EventMessageCreate, messageContext())
	logs := store.entries()
	require.Len(t, logs, 1)
	assert.Equal(t, int64(5), logs[0].DurationMs)
	assert.Equal(t, base.Add(15*time.Millisecond), logs[0].CreatedAt)
}

func TestEmitUnknownUser(t *testing.T) {
	var calls []int64
	m := newTestManager(t, testRegistry(t, &calls, nil), newFakeStore())
	assert.NotPanics(t, func() {
		m.Emit(context.Background(), 42, EventMessageCreate, messageContext())
	})
	assert.Empty(t, calls)
}

func TestLoadForUserDisabledIsNotCached(t *testing.T) {
	var calls []int64
	reg := testRegistry(t, &calls, nil)
	store := newFakeStore()
	store.users[1] = User{ID: 1, Admin: true, Disabled: true}
	store.addConfig(1, 1, "test/hook", "")
	m := newTestManager(t, reg, store)

	assert.Empty(t, m.LoadForUser(context.Background(), 1))
	assert.Zero(t, m.Cached())

	store.mu.Lock()
	store.users[1] = User{ID: 1, Admin: true}
	store.mu.Unlock()
	assert.Len(t, m.LoadForUser(context.Background(), 1), 1)
	assert.Equal(t, 1, m.Cached())

	// 已缓存的用户被停用后立即不再执行插件。
	store.mu.Lock()
	store.users[1] = User{ID: 1, Admin: true, Disabled: true}
	store.mu.Unlock()
	assert.Empty(t, m.LoadForUser(context.Background(), 1))
}

func TestLoadForUserEnforcesPermissions(t *testing.T) {
	var calls []int64
	reg := testRegistry(t, &calls, nil)
	store := newFakeStore()
	store.users[2] = User{ID: 2}
	store.addConfig(1, 2, "test/hook", "")
	store.addConfig(2, 2, "test/plain", "")
	m := newTestManager(t, reg, store)
	ctx := context.Background()

	assert.Empty(t, m.LoadForUser(ctx, 2))

	store.mu.Lock()
	store.permitted[2] = []string{"test/hook"}
	store.mu.Unlock()
	assert.Empty(t, m.LoadForUser(ctx, 2), "cached until invalidated")

	m.Invalidate(2)
	loaded := m.LoadForUser(ctx, 2)
	require.Len(t, loaded, 1)
	assert.Equal(t, int64(1), loaded[0].ID())
}

func TestLoadForUserCachesAndInvalidates(t *testing.T) {
	var calls []int64
	reg := testRegistry(t, &calls, nil)
	store := newFakeStore()
	store.users[1] = User{ID: 1, Admin: true}
	store.addConfig(1, 1, "test/plain", "greeting: hello")
	store.addConfig(2, 1, "test/unknown", "")
	store.addConfig(3, 1, "test/plain", "")
	observer := &recordingObserver{}
	m := newTestManager(t, reg, store, WithObserver(observer))
	ctx := context.Background()

	first := m.LoadForUser(ctx, 1)
	require.Len(t, first, 2, "unknown modules are skipped")
	assert.Equal(t, map[string]any{"greeting": "hello"}, first[0].(*stubPlugin).config)
	assert.Nil(t, first[1].(*stubPlugin).config)
	assert.Equal(t, 1, first[0].(*stubPlugin).inits)

	second := m.LoadForUser(ctx, 1)
	assert.Same(t, first[0], second[0])
	assert.Equal(t, 1, store.configReads)
	assert.Equal(t, 1, observer.hits)
	assert.Equal(t, 1, observer.misses)

	store.mu.Lock()
	store.configs[0].ConfigYAML = "greeting: bye"
	store.mu.Unlock()
	m.Invalidate(1)
	assert.Zero(t, m.Cached())

	third := m.LoadForUser(ctx, 1)
	assert.Equal(t, 2, store.configReads)
	assert.Equal(t, map[string]any{"greeting": "bye"}, third[0].(*stubPlugin).config)
}

func TestLoadForUserSkipsFailingInit(t *testing.T) {
	var calls []int64
	reg := testRegistry(t, &calls, nil)
	store := newFakeStore()
	store.users[1] = User{ID: 1, Admin: true}
	store.addConfig(1, 1, "test/init-error", "")
	store.addConfig(2, 1, "test/hook", "")
	store.addConfig(3, 1, "test/init-panic", "")
	observer := &recordingObserver{}
	m := newTestManager(t, reg, store, WithObserver(observer))

	loaded := m.LoadForUser(context.Background(), 1)
	require.Len(t, loaded, 1)
	assert.Equal(t, int64(2), loaded[0].ID())
	assert.Equal(t, 1, m.Cached())
	assert.Equal(t, []string{"test/init-error", "test/init-panic"}, observer.initFailed)
}

func TestInvalidateDuringLoadIsNotCached(t *testing.T) {
	var calls []int64
	reg := testRegistry(t, &calls, nil)
	store := newFakeStore()
	store.users[1] = User{ID: 1, Admin: true}
	store.addConfig(1, 1, "test/hook", "")
	m := newTestManager(t, reg, store)

	store.onConfigs = func() { m.Invalidate(1) }
	loaded := m.LoadForUser(context.Background(), 1)
	assert.Len(t, loaded, 1)
	assert.Zero(t, m.Cached())

	store.mu.Lock()
	store.onConfigs = nil
	store.mu.Unlock()
	m.LoadForUser(context.Background(), 1)
	assert.Equal(t, 1, m.Cached())
}

func TestInvalidatePublishes(t *testing.T) {
	var calls []int64
	publisher := &recordingPublisher{err: errors.New("broker down")}
	m := newTestManager(t, testRegistry(t, &calls, nil), newFakeStore(), WithInvalidationPublisher(publisher))

	m.Invalidate(5)
	m.InvalidateLocal(6)
	assert.Equal(t, []int64{5}, publisher.users)
}

func TestHandlerFor(t *testing.T) {
	hook := &hookPlugin{fn: func(context.Context, Context) error { return nil }}
	assert.NotNil(t, HandlerFor(hook, EventMessageCreate))
	assert.Nil(t, HandlerFor(hook, EventMessageDelete))
	assert.Nil(t, HandlerFor(&stubPlugin{}, EventMessageCreate))
	assert.Nil(t, HandlerFor(hook, Event("unknown")))
}

func TestPolicyFor(t *testing.T) {
	called := false
	policy, err := PolicyFor(User{Admin: true}, func() ([]string, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.True(t, policy.Allows("anything"))

	policy, err = PolicyFor(User{}, func() ([]string, error) { return []string{"a/b"}, nil })
	require.NoError(t, err)
	assert.True(t, policy.Allows("a/b"))
	assert.False(t, policy.Allows("c/d"))
	assert.False(t, policy.Admin())

	_, err = PolicyFor(User{}, func() ([]string, error) { return nil, errors.New("db down") })
	assert.Error(t, err)
}

func TestEventValid(t *testing.T) {
	for _, e := range Events() {
		assert.True(t, e.Valid())
	}
	assert.False(t, Event("message.update").Valid())
	assert.Equal(t, "2024-05-01T12:00:00.000Z", Timestamp(time.Date(2024, 5, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))))
}
