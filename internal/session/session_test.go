package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/patient_portal/internal/api"
	"github.com/R3E-Network/patient_portal/internal/logging"
	"github.com/R3E-Network/patient_portal/internal/metrics"
	"github.com/R3E-Network/patient_portal/internal/storage"
	"github.com/R3E-Network/patient_portal/internal/storage/memory"
)

// fakeAPI serves /auth/me. The token "bad" is rejected, tokens starting with
// "admin" get the admin role, and tokens with a gate wait until it is released.
type fakeAPI struct {
	srv *httptest.Server

	mu    sync.Mutex
	calls map[string]int
	gates map[string]chan struct{}
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{calls: map[string]int{}, gates: map[string]chan struct{}{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serveMe))
	t.Cleanup(f.srv.Close)
	return f
}

// gate holds requests for token until the returned release func is called.
func (f *fakeAPI) gate(t *testing.T, token string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[token] = ch
	f.mu.Unlock()
	var once sync.Once
	release := func() { once.Do(func() { close(ch) }) }
	t.Cleanup(release)
	return release
}

func (f *fakeAPI) callsFor(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[token]
}

func (f *fakeAPI) serveMe(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	f.mu.Lock()
	f.calls[token]++
	gate := f.gates[token]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if token == "" || token == "bad" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
		return
	}
	role := "user"
	if strings.HasPrefix(token, "admin") {
		role = "admin"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "username": token, "role": role})
}

func newTestSession(t *testing.T, f *fakeAPI, store storage.Store) *Session {
	t.Helper()
	client, err := api.New(api.Config{BaseURL: f.srv.URL})
	require.NoError(t, err)
	s := New("browser-1", Options{
		Client:  client,
		Store:   store,
		Logger:  logging.New("test", "error", "json"),
		Metrics: metrics.New(),
	})
	t.Cleanup(s.Close)
	return s
}

func waitTask(t *testing.T, task *Task) (*api.User, error) {
	t.Helper()
	require.NotNil(t, task)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-task.Done():
	case <-ctx.Done():
		t.Fatal("task did not finish")
	}
	return task.Wait(ctx)
}

func TestSetToken_AppliesEveryEffect(t *testing.T) {
	f := newFakeAPI(t)
	store := memory.New()
	s := newTestSession(t, f, store)
	ctx := context.Background()

	task, err := s.SetToken(ctx, "admin-token")
	require.NoError(t, err)

	stored, err := store.Get(ctx, storage.TokenKey("browser-1"))
	require.NoError(t, err)
	assert.Equal(t, "admin-token", stored)
	assert.Equal(t, "Bearer admin-token", s.Client().Header("Authorization"))
	assert.True(t, s.HasToken())

	user, err := waitTask(t, task)
	require.NoError(t, err)
	assert.True(t, user.IsAdmin())
	assert.Equal(t, "admin-token", s.User().Username)
	assert.Same(t, user, task.User())
}

func TestSetToken_SameTokenIsNoop(t *testing.T) {
	f := newFakeAPI(t)
	s := newTestSession(t, f, memory.New())
	ctx := context.Background()

	first, err := s.SetToken(ctx, "tok")
	require.NoError(t, err)
	_, err = waitTask(t, first)
	require.NoError(t, err)
	generation := s.Generation()

	second, err := s.SetToken(ctx, "tok")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, generation, s.Generation())
	assert.Equal(t, 1, f.callsFor("tok"))
}

func TestLogout_ClearsSynchronously(t *testing.T) {
	f := newFakeAPI(t)
	store := memory.New()
	s := newTestSession(t, f, store)
	ctx := context.Background()

	task, err := s.SetToken(ctx, "tok")
	require.NoError(t, err)
	_, err = waitTask(t, task)
	require.NoError(t, err)
	require.NotNil(t, s.User())

	require.NoError(t, s.Logout(ctx))

	assert.False(t, s.HasToken())
	assert.Nil(t, s.User())
	assert.Equal(t, "", s.Client().Header("Authorization"))
	_, err = store.Get(ctx, storage.TokenKey("browser-1"))
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestFetchFailure_ClearsUserWithoutRetry(t *testing.T) {
	f := newFakeAPI(t)
	s := newTestSession(t, f, memory.New())

	task, err := s.SetToken(context.Background(), "bad")
	require.NoError(t, err)

	user, err := waitTask(t, task)
	assert.Error(t, err)
	assert.Nil(t, user)
	assert.Nil(t, s.User())
	assert.True(t, s.HasToken())
	assert.Equal(t, 1, f.callsFor("bad"))
}

func TestSupersededFetchIsDiscarded(t *testing.T) {
	f := newFakeAPI(t)
	slow := f.gate(t, "slow")
	s := newTestSession(t, f, memory.New())
	ctx := context.Background()

	stale, err := s.SetToken(ctx, "slow")
	require.NoError(t, err)
	current, err := s.SetToken(ctx, "admin-fast")
	require.NoError(t, err)

	user, err := waitTask(t, current)
	require.NoError(t, err)
	assert.Equal(t, "admin-fast", user.Username)

	slow()
	_, err = waitTask(t, stale)
	assert.True(t, errors.Is(err, ErrSuperseded))
	assert.Equal(t, "admin-fast", s.User().Username)
	assert.Equal(t, "Bearer admin-fast", s.Client().Header("Authorization"))
}

func TestLogoutDuringFetch_KeepsUserCleared(t *testing.T) {
	f := newFakeAPI(t)
	release := f.gate(t, "admin-slow")
	s := newTestSession(t, f, memory.New())
	ctx := context.Background()

	task, err := s.SetToken(ctx, "admin-slow")
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx))
	release()

	_, err = waitTask(t, task)
	assert.True(t, errors.Is(err, ErrSuperseded))
	assert.Nil(t, s.User())
}

func TestRestore_AppliesStoredToken(t *testing.T) {
	f := newFakeAPI(t)
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, storage.TokenKey("browser-1"), "admin-stored"))

	s := newTestSession(t, f, store)
	require.NoError(t, s.Restore(ctx))

	assert.Equal(t, "admin-stored", s.Token())
	assert.Equal(t, "Bearer admin-stored", s.Client().Header("Authorization"))

	awaitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	user := s.AwaitUser(awaitCtx)
	require.NotNil(t, user)
	assert.True(t, user.IsAdmin())

	// Only the first call restores.
	require.NoError(t, store.Set(ctx, storage.TokenKey("browser-1"), "other"))
	require.NoError(t, s.Restore(ctx))
	assert.Equal(t, "admin-stored", s.Token())
}

func TestRestore_NothingStored(t *testing.T) {
	f := newFakeAPI(t)
	s := newTestSession(t, f, memory.New())

	require.NoError(t, s.Restore(context.Background()))
	assert.False(t, s.HasToken())
	assert.Nil(t, s.AwaitUser(context.Background()))
}

func TestAwaitUser_ContextDeadline(t *testing.T) {
	f := newFakeAPI(t)
	f.gate(t, "blocked")
	s := newTestSession(t, f, memory.New())

	_, err := s.SetToken(context.Background(), "blocked")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Nil(t, s.AwaitUser(ctx))
}

func TestClose_DiscardsInFlightFetch(t *testing.T) {
	f := newFakeAPI(t)
	release := f.gate(t, "admin-late")
	s := newTestSession(t, f, memory.New())

	task, err := s.SetToken(context.Background(), "admin-late")
	require.NoError(t, err)
	s.Close()
	release()

	_, err = waitTask(t, task)
	assert.True(t, errors.Is(err, ErrSuperseded))
	assert.Nil(t, s.User())

	_, err = s.SetToken(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestValues_ResetOnTokenChange(t *testing.T) {
	f := newFakeAPI(t)
	s := newTestSession(t, f, memory.New())
	ctx := context.Background()

	_, err := s.SetToken(ctx, "a")
	require.NoError(t, err)

	board := s.LoadOrStoreValue("board", func() any { return []int{1} })
	assert.Equal(t, []int{1}, board)
	assert.Equal(t, []int{1}, s.LoadOrStoreValue("board", func() any { return []int{2} }))

	_, err = s.SetToken(ctx, "b")
	require.NoError(t, err)
	_, ok := s.Value("board")
	assert.False(t, ok)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) Set(context.Context, string, string) error {
	return errors.New("storage offline")
}

func TestSetToken_StorageFailureStillApplies(t *testing.T) {
	f := newFakeAPI(t)
	s := newTestSession(t, f, failingStore{memory.New()})

	task, err := s.SetToken(context.Background(), "tok")
	assert.Error(t, err)
	assert.NotNil(t, task)
	assert.Equal(t, "tok", s.Token())
	assert.Equal(t, "Bearer tok", s.Client().Header("Authorization"))
}
