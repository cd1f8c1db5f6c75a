package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/longplay/internal/media"
)

// mockExtender implements media.Constructor for testing.
type mockExtender struct {
	mock.Mock
}

func (m *mockExtender) Extend(ctx context.Context, sourcePath string, targetHours float64, obs media.Observer) (*media.Result, error) {
	args := m.Called(ctx, sourcePath, targetHours, obs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*media.Result), args.Error(1)
}

// mockStorage implements storage.Storage for testing.
type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	args := m.Called(ctx, name, data)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *mockStorage) CleanupTemp(ctx context.Context, paths []string) error {
	args := m.Called(ctx, paths)
	return args.Error(0)
}

func (m *mockStorage) Publish(ctx context.Context, key string, data io.Reader) (string, error) {
	args := m.Called(ctx, key, data)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) CanPublish() bool {
	return m.Called().Bool(0)
}

func newTestService(t *testing.T, store *mockStorage) (*ExtendService, *mockExtender, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	ext := &mockExtender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if store == nil {
		return NewExtendService(repo, ext, nil, logger), ext, repo
	}
	return NewExtendService(repo, ext, store, logger), ext, repo
}

func successResult() *media.Result {
	return &media.Result{
		OutputPath:             "/out/1h_clip.mp4",
		DurationHoursRequested: 1,
		SizeBytes:              2048,
		Plan:                   media.Plan{SourceDuration: 596.3, TargetDuration: 3600, RepeatCount: 7, TrimSeconds: 3600},
	}
}

// reportStates drives the observer the way the real constructor does.
func reportStates(args mock.Arguments, outTimes ...float64) {
	obs := args.Get(3).(media.Observer)
	for _, st := range []media.State{media.StateIdle, media.StateProbing, media.StatePlanning, media.StateManifestReady, media.StateRunning} {
		obs.OnState(st)
	}
	for _, secs := range outTimes {
		obs.OnProgress(media.ProgressEvent{Line: "time=", OutTime: secs})
	}
	obs.OnState(media.StateValidating)
	obs.OnState(media.StateDone)
}

func TestExtendService_CreateJob(t *testing.T) {
	svc, _, repo := newTestService(t, nil)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, ExtendInput{SourcePath: "/videos/clip.mp4", DurationHours: 10})
	require.NoError(t, err)

	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, "/videos/clip.mp4", job.SourcePath)
	assert.Equal(t, 10.0, job.DurationHours)

	saved, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, saved.ID)
}

func TestExtendService_CreateJob_InvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   ExtendInput
		wantErr error
	}{
		{"missing source", ExtendInput{DurationHours: 1}, ErrInvalidInput},
		{"zero hours", ExtendInput{SourcePath: "/a.mp4"}, ErrInvalidInput},
		{"negative hours", ExtendInput{SourcePath: "/a.mp4", DurationHours: -1}, ErrInvalidInput},
		{"publish without store", ExtendInput{SourcePath: "/a.mp4", DurationHours: 1, Publish: true}, ErrPublishUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateJob(ctx, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExtendService_Process_Success(t *testing.T) {
	svc, ext, repo := newTestService(t, nil)
	ctx := context.Background()

	ext.On("Extend", mock.Anything, "/videos/clip.mp4", 1.0, mock.Anything).
		Run(func(args mock.Arguments) { reportStates(args, 900, 1800) }).
		Return(successResult(), nil)

	out, err := svc.Process(ctx, ExtendInput{SourcePath: "/videos/clip.mp4", DurationHours: 1})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, "/out/1h_clip.mp4", out.OutputPath)
	assert.Equal(t, int64(2048), out.SizeBytes)
	assert.Empty(t, out.VideoURL)

	saved, err := repo.FindByID(ctx, out.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, saved.Status)
	assert.Equal(t, string(media.StateDone), saved.Stage)
	assert.Equal(t, 100, saved.Progress)
	assert.Equal(t, 7, saved.RepeatCount)
	assert.False(t, saved.StartedAt.IsZero())
	assert.False(t, saved.CompletedAt.IsZero())

	ext.AssertExpectations(t)
}

func TestExtendService_Process_TracksProgress(t *testing.T) {
	svc, ext, repo := newTestService(t, nil)
	ctx := context.Background()

	var midProgress int
	ext.On("Extend", mock.Anything, "/videos/clip.mp4", 1.0, mock.Anything).
		Run(func(args mock.Arguments) {
			obs := args.Get(3).(media.Observer)
			obs.OnState(media.StateRunning)
			obs.OnProgress(media.ProgressEvent{OutTime: 900})

			jobs, _ := repo.List(ctx)
			midProgress = jobs[0].Progress
		}).
		Return(successResult(), nil)

	_, err := svc.Process(ctx, ExtendInput{SourcePath: "/videos/clip.mp4", DurationHours: 1})
	require.NoError(t, err)

	assert.Equal(t, 25, midProgress)
}

func TestExtendService_Process_Failure(t *testing.T) {
	svc, ext, repo := newTestService(t, nil)
	ctx := context.Background()

	toolErr := &media.Error{Kind: media.KindExternalTool, Op: "run ffmpeg", ExitCode: 1, Err: errors.New("exit status 1")}
	ext.On("Extend", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, toolErr)

	out, err := svc.Process(ctx, ExtendInput{SourcePath: "/videos/clip.mp4", DurationHours: 1})
	require.Error(t, err)
	assert.Equal(t, media.KindExternalTool, media.KindOf(err))

	assert.Equal(t, StatusFailed, out.Status)
	saved, err := repo.FindByID(ctx, out.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, saved.Status)
	assert.Equal(t, "external_tool", saved.ErrorKind)
	assert.Contains(t, saved.Error, "exit code 1")
}

func TestExtendService_Process_Publish(t *testing.T) {
	store := &mockStorage{}
	store.On("CanPublish").Return(true)
	store.On("Open", mock.Anything, "/out/1h_clip.mp4").
		Return(io.NopCloser(strings.NewReader("video")), nil)
	store.On("Publish", mock.Anything, "1h_clip.mp4", mock.Anything).
		Return("https://bucket.s3.us-east-1.amazonaws.com/1h_clip.mp4", nil)

	svc, ext, _ := newTestService(t, store)
	ext.On("Extend", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(successResult(), nil)

	out, err := svc.Process(context.Background(), ExtendInput{SourcePath: "/videos/clip.mp4", DurationHours: 1, Publish: true})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, "https://bucket.s3.us-east-1.amazonaws.com/1h_clip.mp4", out.VideoURL)
	store.AssertExpectations(t)
}

func TestExtendService_Process_PublishFailure(t *testing.T) {
	store := &mockStorage{}
	store.On("CanPublish").Return(true)
	store.On("Open", mock.Anything, "/out/1h_clip.mp4").
		Return(io.NopCloser(strings.NewReader("video")), nil)
	store.On("Publish", mock.Anything, "1h_clip.mp4", mock.Anything).
		Return("", errors.New("access denied"))

	svc, ext, repo := newTestService(t, store)
	ext.On("Extend", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(successResult(), nil)

	out, err := svc.Process(context.Background(), ExtendInput{SourcePath: "/videos/clip.mp4", DurationHours: 1, Publish: true})
	require.Error(t, err)

	saved, findErr := repo.FindByID(context.Background(), out.JobID)
	require.NoError(t, findErr)
	assert.Equal(t, StatusFailed, saved.Status)
	assert.Equal(t, "publish", saved.ErrorKind)
	assert.Equal(t, "/out/1h_clip.mp4", saved.OutputPath)
}

// blockingExtend makes the mock wait for cancellation, signalling started first.
func blockingExtend(started chan<- string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		args.Get(3).(media.Observer).OnState(media.StateRunning)
		started <- args.String(1)
		<-ctx.Done()
	}
}

func TestExtendService_CancelJob_Running(t *testing.T) {
	svc, ext, repo := newTestService(t, nil)
	ctx := context.Background()

	started := make(chan string, 1)
	cancelled := &media.Error{Kind: media.KindCancelled, Op: "run ffmpeg", Err: context.Canceled}
	ext.On("Extend", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(blockingExtend(started)).
		Return(nil, cancelled)

	job, err := svc.CreateJob(ctx, ExtendInput{SourcePath: "/videos/clip.mp4", DurationHours: 1})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.ProcessExistingJob(ctx, job.ID)
		done <- err
	}()

	<-started
	running, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)

	require.NoError(t, svc.CancelJob(ctx, job.ID))

	select {
	case err := <-done:
		assert.Equal(t, media.KindCancelled, media.KindOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("job did not stop after cancel")
	}

	saved, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, saved.Status)

	assert.ErrorIs(t, svc.CancelJob(ctx, job.ID), ErrJobTerminal)
}

func TestExtendService_CancelJob_Queued(t *testing.T) {
	svc, ext, repo := newTestService(t, nil)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, ExtendInput{SourcePath: "/videos/clip.mp4", DurationHours: 1})
	require.NoError(t, err)

	require.NoError(t, svc.CancelJob(ctx, job.ID))

	saved, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, saved.Status)

	// Processing a cancelled job is a no-op.
	out, err := svc.ProcessExistingJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)
	ext.AssertNotCalled(t, "Extend", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExtendService_CancelJob_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	err := svc.CancelJob(context.Background(), "job-unknown")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestExtendService_SingleSlot(t *testing.T) {
	svc, ext, repo := newTestService(t, nil)
	ctx := context.Background()

	started := make(chan string, 2)
	cancelled := &media.Error{Kind: media.KindCancelled, Op: "run ffmpeg", Err: context.Canceled}
	ext.On("Extend", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(blockingExtend(started)).
		Return(nil, cancelled)

	first, err := svc.CreateJob(ctx, ExtendInput{SourcePath: "/videos/first.mp4", DurationHours: 1})
	require.NoError(t, err)
	second, err := svc.CreateJob(ctx, ExtendInput{SourcePath: "/videos/second.mp4", DurationHours: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = svc.ProcessExistingJob(ctx, id)
		}(id)
	}

	runningSource := <-started
	select {
	case src := <-started:
		t.Fatalf("second job %s started while the slot was taken", src)
	case <-time.After(100 * time.Millisecond):
	}

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	statuses := map[string]Status{}
	for _, j := range jobs {
		statuses[j.SourcePath] = j.Status
	}
	waitingSource := "/videos/second.mp4"
	if runningSource == waitingSource {
		waitingSource = "/videos/first.mp4"
	}
	assert.Equal(t, StatusRunning, statuses[runningSource])
	assert.Equal(t, StatusQueued, statuses[waitingSource])

	require.NoError(t, svc.Shutdown(ctx))
	wg.Wait()

	jobs, err = repo.List(ctx)
	require.NoError(t, err)
	for _, j := range jobs {
		assert.Equal(t, StatusCancelled, j.Status, j.SourcePath)
	}
}

func TestExtendService_Shutdown_RejectsNewJobs(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, ExtendInput{SourcePath: "/videos/clip.mp4", DurationHours: 1})
	require.NoError(t, err)

	require.NoError(t, svc.Shutdown(ctx))

	_, err = svc.ProcessExistingJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestExtendService_ListJobs(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	for _, src := range []string{"/a.mp4", "/b.mp4", "/c.mp4"} {
		_, err := svc.CreateJob(ctx, ExtendInput{SourcePath: src, DurationHours: 1})
		require.NoError(t, err)
	}

	jobs, err := svc.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "/a.mp4", jobs[0].SourcePath)
	assert.Equal(t, "/c.mp4", jobs[2].SourcePath)
}

func TestExtendService_CreateJob_PrunesFinishedJobs(t *testing.T) {
	repo := NewMemoryRepository()
	ext := &mockExtender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewExtendService(repo, ext, nil, logger, WithRetention(time.Hour))
	ctx := context.Background()

	stale := New()
	require.NoError(t, stale.Start())
	require.NoError(t, stale.Complete())
	stale.CompletedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.Save(ctx, stale))

	recent := New()
	require.NoError(t, recent.Start())
	require.NoError(t, recent.Fail("probe", "no duration"))
	require.NoError(t, repo.Save(ctx, recent))

	queued := New()
	queued.CreatedAt = time.Now().Add(-3 * time.Hour)
	require.NoError(t, repo.Save(ctx, queued))

	created, err := svc.CreateJob(ctx, ExtendInput{SourcePath: "/videos/clip.mp4", DurationHours: 1})
	require.NoError(t, err)

	jobs, err := svc.ListJobs(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{recent.ID, queued.ID, created.ID}, ids)
}

func TestExtendService_WithoutRetentionKeepsJobs(t *testing.T) {
	svc, _, repo := newTestService(t, nil)
	ctx := context.Background()

	old := New()
	require.NoError(t, old.Start())
	require.NoError(t, old.Complete())
	old.CompletedAt = time.Now().Add(-24 * 365 * time.Hour)
	require.NoError(t, repo.Save(ctx, old))

	_, err := svc.CreateJob(ctx, ExtendInput{SourcePath: "/videos/clip.mp4", DurationHours: 1})
	require.NoError(t, err)

	_, err = repo.FindByID(ctx, old.ID)
	assert.NoError(t, err)
}
