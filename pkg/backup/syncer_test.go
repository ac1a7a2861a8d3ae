package backup

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/foomo/cloudbackup/pkg/drive"
	"github.com/foomo/cloudbackup/pkg/drive/drivetest"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testAppPrefix = "Ledger"

var testDate = time.Date(2024, time.March, 7, 10, 30, 0, 0, time.Local)

type testEnv struct {
	srv    *drivetest.Server
	clock  *clockwork.FakeClock
	syncer *Syncer
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testDate)
	srv := drivetest.NewServer(t, drivetest.WithClock(clock), drivetest.WithToken("token"))
	return &testEnv{
		srv:    srv,
		clock:  clock,
		syncer: newTestSyncer(t, srv, clock, opts...),
	}
}

func newTestSyncer(t *testing.T, srv *drivetest.Server, clock clockwork.Clock, opts ...Option) *Syncer {
	t.Helper()
	l := zaptest.NewLogger(t)
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewSyncer(l, srv.Client(l), testAppPrefix, opts...)
}

func (e *testEnv) containers() []drive.File {
	return e.srv.Folders(testAppPrefix + "_AppData")
}

func (e *testEnv) containerSearches() int {
	return e.srv.CountCalls(http.MethodGet, "/files", "_AppData")
}

func TestSyncerColdStart(t *testing.T) {
	env := newTestEnv(t)
	state := json.RawMessage(`{"customers":[{"id":1,"name":"Ada"}],"version":3}`)

	require.NoError(t, env.syncer.Write(t.Context(), state))

	containers := env.containers()
	require.Len(t, containers, 1)
	assert.Equal(t, containers[0].ID, env.syncer.ContainerID())

	snapshots := env.srv.Children(containers[0].ID)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "Ledger_Backup_2024-03-07.json", snapshots[0].Name)
	assert.Equal(t, drive.MimeTypeJSON, snapshots[0].MimeType)
	assert.Equal(t, []byte(state), env.srv.Content(snapshots[0].ID))
}

func TestSyncerSameDayOverwrite(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))
	env.clock.Advance(time.Hour)
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":2}`)))

	containers := env.containers()
	require.Len(t, containers, 1)
	snapshots := env.srv.Children(containers[0].ID)
	require.Len(t, snapshots, 1)
	assert.Equal(t, `{"n":2}`, string(env.srv.Content(snapshots[0].ID)))
	assert.Equal(t, 1, env.srv.CountCalls(http.MethodPatch, "/upload/files/", ""))

	got, err := env.syncer.Read(t.Context())
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(got))
}

func TestSyncerDistinctDays(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"day":1}`)))
	env.clock.Advance(24 * time.Hour)
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"day":2}`)))

	containers := env.containers()
	require.Len(t, containers, 1)
	snapshots := env.srv.Children(containers[0].ID)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "Ledger_Backup_2024-03-07.json", snapshots[0].Name)
	assert.Equal(t, "Ledger_Backup_2024-03-08.json", snapshots[1].Name)
	assert.Equal(t, `{"day":1}`, string(env.srv.Content(snapshots[0].ID)))
	assert.Equal(t, `{"day":2}`, string(env.srv.Content(snapshots[1].ID)))

	got, err := env.syncer.Read(t.Context())
	require.NoError(t, err)
	assert.JSONEq(t, `{"day":2}`, string(got))
}

func TestSyncerRoundTrip(t *testing.T) {
	states := []string{
		`{}`,
		`{"a":1}`,
		`{"nested":{"list":[1,2.5,"x",null,true],"empty":{}},"unicode":"Grüße ✓"}`,
		"{\n  \"pretty\": [\n    1\n  ]\n}\n",
	}
	for _, state := range states {
		t.Run(state, func(t *testing.T) {
			env := newTestEnv(t)
			require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(state)))

			// a second process without any cached reference
			other := newTestSyncer(t, env.srv, env.clock)
			got, err := other.Read(t.Context())
			require.NoError(t, err)
			assert.Equal(t, state, string(got))
			assert.JSONEq(t, state, string(got))
		})
	}
}

func TestSyncerStaleCacheRecovery(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))
	stale := env.syncer.ContainerID()
	require.NotEmpty(t, stale)
	require.Equal(t, 1, env.containerSearches())

	env.srv.Remove(stale)

	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":2}`)))
	assert.Equal(t, 2, env.containerSearches(), "exactly one re-discovery")

	containers := env.containers()
	require.Len(t, containers, 1)
	assert.NotEqual(t, stale, containers[0].ID)
	assert.Equal(t, containers[0].ID, env.syncer.ContainerID())
	snapshots := env.srv.Children(containers[0].ID)
	require.Len(t, snapshots, 1)
	assert.Equal(t, `{"n":2}`, string(env.srv.Content(snapshots[0].ID)))
}

func TestSyncerSecondNotFoundSurfaces(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))

	env.srv.Fail(drivetest.Failure{
		Method:        http.MethodGet,
		Path:          "/files",
		QueryContains: "_Backup_",
		Status:        http.StatusNotFound,
		Times:         2,
	})

	err := env.syncer.Write(t.Context(), json.RawMessage(`{"n":2}`))
	require.Error(t, err)
	assert.True(t, drive.IsNotFound(err))

	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhaseCheckingExistingSnapshot, phaseErr.Phase)
	assert.Equal(t, 2, env.containerSearches(), "no second re-discovery")
}

func TestSyncerNotFoundWhileUploading(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))

	env.srv.Fail(drivetest.Failure{
		Method: http.MethodPut,
		Path:   "/upload/sessions/",
		Status: http.StatusNotFound,
	})

	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":2}`)))
	containers := env.containers()
	require.Len(t, containers, 1)
	snapshots := env.srv.Children(containers[0].ID)
	require.Len(t, snapshots, 1)
	assert.Equal(t, `{"n":2}`, string(env.srv.Content(snapshots[0].ID)))
}

func TestSyncerFailedUploadKeepsPreviousSnapshot(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))

	env.srv.Fail(drivetest.Failure{
		Method: http.MethodPut,
		Path:   "/upload/sessions/",
		Status: http.StatusInternalServerError,
	})

	err := env.syncer.Write(t.Context(), json.RawMessage(`{"n":2}`))
	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhaseUploadingBytes, phaseErr.Phase)

	got, err := env.syncer.Read(t.Context())
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(got))
}

func TestSyncerAuthErrorIsNotRetried(t *testing.T) {
	env := newTestEnv(t)
	l := zaptest.NewLogger(t)
	syncer := NewSyncer(l, env.srv.Client(l, drive.WithAccessToken("expired")), testAppPrefix)

	err := syncer.Write(t.Context(), json.RawMessage(`{"n":1}`))
	require.Error(t, err)
	assert.True(t, drive.IsAuth(err))
	assert.Len(t, env.srv.Calls(), 1)
}

func TestSyncerOtherErrorsAreNotRetried(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))
	calls := len(env.srv.Calls())

	env.srv.Fail(drivetest.Failure{
		Method: http.MethodPatch,
		Path:   "/upload/files/",
		Status: http.StatusInternalServerError,
	})

	err := env.syncer.Write(t.Context(), json.RawMessage(`{"n":2}`))
	var apiErr *drive.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	// search + failed initiate
	assert.Len(t, env.srv.Calls(), calls+2)
	assert.NotEmpty(t, env.syncer.ContainerID())
}

func TestSyncerEmptyState(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.syncer.Write(t.Context(), nil), ErrEmptyState)
	assert.Empty(t, env.srv.Calls())
}

func TestSyncerInvalidStateKeepsSnapshot(t *testing.T) {
	var (
		mu     sync.Mutex
		phases []Phase
	)
	env := newTestEnv(t, WithPhaseObserver(func(p Phase) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, p)
	}))
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"good":1}`)))
	calls := len(env.srv.Calls())

	for _, state := range []string{"[1,2]", "not json", "null", `"good"`} {
		phases = nil
		err := env.syncer.Write(t.Context(), json.RawMessage(state))
		require.ErrorIs(t, err, ErrInvalidState, state)
		assert.Equal(t, []Phase{PhaseIdle, PhaseFailed}, phases, state)
	}
	assert.Len(t, env.srv.Calls(), calls)

	got, err := env.syncer.Read(t.Context())
	require.NoError(t, err)
	assert.JSONEq(t, `{"good":1}`, string(got))
}

func TestSyncerWriteSnapshotReturnsFile(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.syncer.WriteSnapshot(t.Context(), json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	assert.Equal(t, "Ledger_Backup_2024-03-07.json", created.Name)

	updated, err := env.syncer.WriteSnapshot(t.Context(), json.RawMessage(`{"n":2}`))
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.Name, updated.Name)
	assert.Equal(t, []byte(`{"n":2}`), env.srv.Content(updated.ID))
}

func TestSyncerReadResilience(t *testing.T) {
	bodies := map[string]string{
		"empty":     "",
		"blank":     "  \n",
		"malformed": `{"customers":[`,
		"array":     `[1,2,3]`,
		"null":      `null`,
		"string":    `"hello"`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			container := env.srv.AddFolder(testAppPrefix+"_AppData", testDate)
			env.srv.AddFile(container.ID, "Ledger_Backup_2024-03-07.json", testDate, []byte(body))

			got, err := env.syncer.Read(t.Context())
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestSyncerReadWithoutSnapshot(t *testing.T) {
	env := newTestEnv(t)
	got, err := env.syncer.Read(t.Context())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSyncerReadSwallowsRemoteErrors(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))

	env.srv.Fail(drivetest.Failure{Method: http.MethodGet, Status: http.StatusInternalServerError, Times: 10})
	got, err := env.syncer.Read(t.Context())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NotEmpty(t, env.syncer.ContainerID())
}

func TestSyncerReadInvalidatesStaleReference(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))
	env.srv.Remove(env.syncer.ContainerID())

	got, err := env.syncer.Read(t.Context())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, env.syncer.ContainerID())
}

func TestSyncerReadKeepsContainerWhenSnapshotVanishes(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))
	id := env.syncer.ContainerID()
	snapshots := env.srv.Children(id)
	require.Len(t, snapshots, 1)
	searches := env.containerSearches()

	env.srv.Fail(drivetest.Failure{Method: http.MethodGet, Path: "/files/" + snapshots[0].ID, Status: http.StatusNotFound, Times: 2})
	got, err := env.syncer.Read(t.Context())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, id, env.syncer.ContainerID())

	got, err = env.syncer.Read(t.Context())
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(got))
	assert.Equal(t, searches, env.containerSearches())
}

func TestSyncerSharedLocateSurvivesCanceledCaller(t *testing.T) {
	env := newTestEnv(t)
	container := env.srv.AddFolder(testAppPrefix+"_AppData", testDate)
	env.srv.AddFile(container.ID, "Ledger_Backup_2024-03-07.json", testDate, []byte(`{"seed":1}`))

	release := env.srv.Hold(http.MethodGet, "_AppData")
	t.Cleanup(release)

	ctxA, cancelA := context.WithCancel(t.Context())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		errA <- env.syncer.Write(ctxA, json.RawMessage(`{"a":1}`))
	}()
	require.Eventually(t, func() bool {
		return env.containerSearches() == 1
	}, time.Second, 5*time.Millisecond)

	type result struct {
		data json.RawMessage
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		data, err := env.syncer.Read(t.Context())
		resB <- result{data: data, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		require.Fail(t, "canceled write did not return")
	}

	release()
	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.JSONEq(t, `{"seed":1}`, string(res.data))
	case <-time.After(5 * time.Second):
		require.Fail(t, "read did not return")
	}
	assert.Equal(t, container.ID, env.syncer.ContainerID())
	assert.Equal(t, 1, env.containerSearches())
	assert.Equal(t, []byte(`{"seed":1}`), env.srv.Content(env.srv.Children(container.ID)[0].ID))
}

func TestSyncerReadCanceled(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	got, err := env.syncer.Read(ctx)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncerPhases(t *testing.T) {
	var (
		mu     sync.Mutex
		phases []Phase
	)
	env := newTestEnv(t, WithPhaseObserver(func(p Phase) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, p)
	}))

	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))
	assert.Equal(t, []Phase{
		PhaseIdle,
		PhaseResolvingContainer,
		PhaseCheckingExistingSnapshot,
		PhaseInitiatingUpload,
		PhaseUploadingBytes,
		PhaseDone,
	}, phases)

	phases = nil
	env.srv.Remove(env.syncer.ContainerID())
	require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":2}`)))
	assert.Equal(t, []Phase{
		PhaseIdle,
		PhaseResolvingContainer,
		PhaseCheckingExistingSnapshot,
		PhaseResolvingContainer,
		PhaseCheckingExistingSnapshot,
		PhaseInitiatingUpload,
		PhaseUploadingBytes,
		PhaseDone,
	}, phases)
}

func TestSyncerConcurrentWrites(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))
		}()
	}
	wg.Wait()

	containers := env.containers()
	require.Len(t, containers, 1)
	assert.Len(t, env.srv.Children(containers[0].ID), 1)
}

func TestSyncerInvalidationWinsOverStaleSuccess(t *testing.T) {
	env := newTestEnv(t)

	id, gen, err := env.syncer.resolve(t.Context())
	require.NoError(t, err)
	require.Equal(t, id, env.syncer.ContainerID())

	// another caller learns id is gone while this one still reports success with it
	env.syncer.invalidate(id)
	env.syncer.remember(id, gen)
	assert.Empty(t, env.syncer.ContainerID())

	env.syncer.Invalidate()
	id, _, err = env.syncer.resolve(t.Context())
	require.NoError(t, err)
	assert.Equal(t, id, env.syncer.ContainerID())
}

func TestSyncerRetention(t *testing.T) {
	env := newTestEnv(t, WithRetention(2))

	for i := 0; i < 4; i++ {
		require.NoError(t, env.syncer.Write(t.Context(), json.RawMessage(`{"n":1}`)))
		env.clock.Advance(24 * time.Hour)
	}

	files, err := env.syncer.Snapshots(t.Context())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "Ledger_Backup_2024-03-10.json", files[0].Name)
	assert.Equal(t, "Ledger_Backup_2024-03-09.json", files[1].Name)
}
