package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/mocks"
	"github.com/phrazzld/scribe/internal/pipeline"
	"github.com/phrazzld/scribe/internal/platform/memory"
	"github.com/phrazzld/scribe/internal/queue"
	"github.com/phrazzld/scribe/internal/resource"
	"github.com/phrazzld/scribe/internal/stage"
	"github.com/phrazzld/scribe/internal/stage/transcribe"
	"github.com/phrazzld/scribe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// pipelineFunc adapts a function to Pipeline and counts its calls.
type pipelineFunc struct {
	calls atomic.Int32
	fn    func(ctx context.Context, jobID uuid.UUID, inputRef string) pipeline.Outcome
}

func (p *pipelineFunc) Run(ctx context.Context, jobID uuid.UUID, inputRef string) pipeline.Outcome {
	p.calls.Add(1)
	return p.fn(ctx, jobID, inputRef)
}

func succeeding() *pipelineFunc {
	return &pipelineFunc{fn: func(ctx context.Context, jobID uuid.UUID, _ string) pipeline.Outcome {
		return pipeline.Outcome{OutputRefs: []string{
			store.JobKey(jobID, pipeline.TranscriptName),
			store.JobKey(jobID, pipeline.DocumentName),
		}}
	}}
}

// blocking returns a pipeline that waits for its context and reports how it ended.
func blocking(started chan<- struct{}) *pipelineFunc {
	return &pipelineFunc{fn: func(ctx context.Context, _ uuid.UUID, _ string) pipeline.Outcome {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		se := stage.Classify("transcribe", ctx.Err())
		return pipeline.Outcome{Err: se, Message: se.Error()}
	}}
}

func fastConfig() ExecutorConfig {
	return ExecutorConfig{
		SoftLimit:         2 * time.Second,
		HardLimit:         3 * time.Second,
		HeartbeatInterval: 10 * time.Millisecond,
		LeaseTimeout:      time.Minute,
	}
}

func createJob(t *testing.T, jobs store.JobStore, filename string) *domain.Job {
	t.Helper()
	job, err := domain.NewJob("placeholder", "")
	require.NoError(t, err)
	job.InputRef = store.InputKey(job.ID, filename)
	require.NoError(t, jobs.Create(context.Background(), job))
	return job
}

func deliveryFor(t *testing.T, job *domain.Job) queue.Delivery {
	t.Helper()
	payload, err := domain.NewMessage(job).Encode()
	require.NoError(t, err)
	return queue.Delivery{ID: "1-0", Payload: payload, Attempt: 1}
}

func getJob(t *testing.T, jobs store.JobStore, id uuid.UUID) *domain.Job {
	t.Helper()
	job, err := jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestExecutor_CompletesJob(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore(0)
	job := createJob(t, jobs, "talk.wav")
	p := succeeding()
	exec := NewExecutor(jobs, p, nil, fastConfig(), setupTestLogger())

	ack := exec.Handle(context.Background(), deliveryFor(t, job))

	assert.Equal(t, queue.AckDone, ack)
	got := getJob(t, jobs, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, []string{
		"jobs/" + job.ID.String() + "/transcript.json",
		"jobs/" + job.ID.String() + "/document.pdf",
	}, got.OutputRefs)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.After(got.UpdatedAt))
	assert.Empty(t, got.Error)
	require.NoError(t, got.Validate())
}

func TestExecutor_DuplicateDeliveryAfterCompletionIsNoOp(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore(0)
	job := createJob(t, jobs, "talk.wav")
	p := succeeding()
	exec := NewExecutor(jobs, p, nil, fastConfig(), setupTestLogger())
	d := deliveryFor(t, job)

	require.Equal(t, queue.AckDone, exec.Handle(context.Background(), d))
	first := getJob(t, jobs, job.ID)

	d.Attempt = 2
	assert.Equal(t, queue.AckDone, exec.Handle(context.Background(), d))

	assert.Equal(t, int32(1), p.calls.Load(), "pipeline must not run again")
	assert.Equal(t, first, getJob(t, jobs, job.ID))
}

func TestExecutor_RecordsPipelineFailure(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore(0)
	job := createJob(t, jobs, "talk.wav")
	p := &pipelineFunc{fn: func(context.Context, uuid.UUID, string) pipeline.Outcome {
		se := stage.Malformed("summarize", "local response: <html>", nil)
		return pipeline.Outcome{Err: se, Message: se.Error()}
	}}
	exec := NewExecutor(jobs, p, nil, fastConfig(), setupTestLogger())

	ack := exec.Handle(context.Background(), deliveryFor(t, job))

	assert.Equal(t, queue.AckDone, ack, "failures are recorded, not retried")
	got := getJob(t, jobs, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "malformed response error: summarize: local response: <html>", got.Error)
	assert.Empty(t, got.OutputRefs)
	assert.Nil(t, got.CompletedAt)
}

func TestExecutor_TranscriptionTimeoutFailsWithTransportMarker(t *testing.T) {
	t.Parallel()

	asr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer asr.Close()

	log := setupTestLogger()
	transcriber, err := transcribe.NewClient(transcribe.Config{URL: asr.URL, Timeout: 50 * time.Millisecond}, asr.Client(), log)
	require.NoError(t, err)

	objects := memory.NewObjectStore("http://objects.test")
	summarizer, renderer := &mocks.MockSummarizer{}, &mocks.MockRenderer{}
	loader := resource.NewLoader("stages", func(context.Context) (*pipeline.Stages, error) {
		return &pipeline.Stages{Transcriber: transcriber, Summarizer: summarizer, Renderer: renderer}, nil
	}, nil, false, log)
	orch := pipeline.NewOrchestrator(objects, loader, 0, log)

	jobs := memory.NewJobStore(0)
	job := createJob(t, jobs, "lecture.mp3")
	_, err = objects.Put(context.Background(), job.InputRef, []byte("ID3\x04\x00audio"), "audio/mpeg")
	require.NoError(t, err)

	exec := NewExecutor(jobs, orch, nil, fastConfig(), log)
	ack := exec.Handle(context.Background(), deliveryFor(t, job))

	assert.Equal(t, queue.AckDone, ack)
	got := getJob(t, jobs, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.Error, "transport error: transcribe:"), got.Error)
	assert.Equal(t, 0, summarizer.Calls())
	assert.Equal(t, 0, renderer.Calls())
}

func TestExecutor_SoftLimitFailsJob(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore(0)
	job := createJob(t, jobs, "talk.wav")
	cfg := fastConfig()
	cfg.SoftLimit = 50 * time.Millisecond
	exec := NewExecutor(jobs, blocking(nil), nil, cfg, setupTestLogger())

	ack := exec.Handle(context.Background(), deliveryFor(t, job))

	assert.Equal(t, queue.AckDone, ack)
	got := getJob(t, jobs, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, SoftLimitMessage, got.Error)
}

func TestExecutor_HardLimitAbandonsJob(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	stuck := &pipelineFunc{fn: func(context.Context, uuid.UUID, string) pipeline.Outcome {
		<-release
		return pipeline.Outcome{}
	}}

	jobs := &mocks.MockJobStore{Fallback: memory.NewJobStore(0)}
	job := createJob(t, jobs, "talk.wav")
	cfg := fastConfig()
	cfg.SoftLimit = 20 * time.Millisecond
	cfg.HardLimit = 80 * time.Millisecond
	exec := NewExecutor(jobs, stuck, nil, cfg, setupTestLogger())

	ack := exec.Handle(context.Background(), deliveryFor(t, job))

	assert.Equal(t, queue.AckAbandon, ack)
	assert.Equal(t, domain.JobStatusProcessing, getJob(t, jobs, job.ID).Status,
		"abandoned jobs stay processing for the sweeper")
	assert.Empty(t, jobs.AppliedPatches())
}

func TestExecutor_OperatorCancelStopsPipeline(t *testing.T) {
	t.Parallel()

	backing := memory.NewJobStore(0)
	jobs := &mocks.MockJobStore{Fallback: backing}
	job := createJob(t, jobs, "talk.wav")
	started := make(chan struct{})
	exec := NewExecutor(jobs, blocking(started), nil, fastConfig(), setupTestLogger())

	go func() {
		<-started
		_, _ = backing.Apply(context.Background(), job.ID, domain.MarkCancelled())
	}()

	ack := exec.Handle(context.Background(), deliveryFor(t, job))

	assert.Equal(t, queue.AckDone, ack)
	assert.Equal(t, domain.JobStatusCancelled, getJob(t, jobs, job.ID).Status)
	assert.Empty(t, jobs.AppliedPatches(), "no terminal write after cancellation")
}

func TestExecutor_HeartbeatRenewsLease(t *testing.T) {
	t.Parallel()

	jobs := &mocks.MockJobStore{Fallback: memory.NewJobStore(0)}
	job := createJob(t, jobs, "talk.wav")
	p := &pipelineFunc{fn: func(ctx context.Context, jobID uuid.UUID, _ string) pipeline.Outcome {
		time.Sleep(60 * time.Millisecond)
		return pipeline.Outcome{OutputRefs: []string{store.JobKey(jobID, pipeline.DocumentName)}}
	}}
	exec := NewExecutor(jobs, p, nil, fastConfig(), setupTestLogger())

	require.Equal(t, queue.AckDone, exec.Handle(context.Background(), deliveryFor(t, job)))

	assert.GreaterOrEqual(t, jobs.TouchCount(), 2)
}

func TestExecutor_SkipsJobLeasedElsewhere(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore(0)
	job := createJob(t, jobs, "talk.wav")
	_, claimed, err := jobs.Claim(context.Background(), job.ID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	p := succeeding()
	exec := NewExecutor(jobs, p, nil, fastConfig(), setupTestLogger())

	assert.Equal(t, queue.AckDone, exec.Handle(context.Background(), deliveryFor(t, job)))
	assert.Equal(t, int32(0), p.calls.Load())
	assert.Equal(t, domain.JobStatusProcessing, getJob(t, jobs, job.ID).Status)
}

func TestExecutor_ReclaimsStaleLease(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore(0)
	job, err := domain.NewJob("placeholder", "")
	require.NoError(t, err)
	job.InputRef = store.InputKey(job.ID, "talk.wav")
	job.Status = domain.JobStatusProcessing
	job.CreatedAt = time.Now().Add(-2 * time.Hour)
	job.UpdatedAt = job.CreatedAt
	require.NoError(t, jobs.Create(context.Background(), job))

	p := succeeding()
	exec := NewExecutor(jobs, p, nil, fastConfig(), setupTestLogger())

	assert.Equal(t, queue.AckDone, exec.Handle(context.Background(), deliveryFor(t, job)))
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, domain.JobStatusCompleted, getJob(t, jobs, job.ID).Status)
}

func TestExecutor_DiscardsBadMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "{{{"},
		{"bad job id", `{"job_id":"nope","input_ref":"jobs/x/input/a.wav"}`},
		{"missing input ref", `{"job_id":"` + uuid.NewString() + `"}`},
		{"unknown job", `{"job_id":"` + uuid.NewString() + `","input_ref":"jobs/x/input/a.wav"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := succeeding()
			exec := NewExecutor(memory.NewJobStore(0), p, nil, fastConfig(), setupTestLogger())

			ack := exec.Handle(context.Background(), queue.Delivery{ID: "1-0", Payload: []byte(tt.payload), Attempt: 1})

			assert.Equal(t, queue.AckDone, ack)
			assert.Equal(t, int32(0), p.calls.Load())
		})
	}
}

type fixedProbe float64

func (fixedProbe) Name() string { return "fixed" }

func (p fixedProbe) Sample(context.Context) (float64, error) { return float64(p), nil }

func TestExecutor_Admission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode    string
		wantAck queue.Ack
		status  domain.JobStatus
	}{
		{resource.ModeEnforce, queue.AckRetry, domain.JobStatusPending},
		{resource.ModeAdvisory, queue.AckDone, domain.JobStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			t.Parallel()
			jobs := memory.NewJobStore(0)
			job := createJob(t, jobs, "talk.wav")
			monitor := resource.NewMonitor(resource.MonitorConfig{MemoryThreshold: 90, Mode: tt.mode},
				fixedProbe(97), nil, setupTestLogger())
			exec := NewExecutor(jobs, succeeding(), monitor, fastConfig(), setupTestLogger())

			assert.Equal(t, tt.wantAck, exec.Handle(context.Background(), deliveryFor(t, job)))
			assert.Equal(t, tt.status, getJob(t, jobs, job.ID).Status)
		})
	}
}

func TestExecutor_StoreErrors(t *testing.T) {
	t.Parallel()

	t.Run("claim failure requeues", func(t *testing.T) {
		t.Parallel()
		jobs := &mocks.MockJobStore{
			ClaimFn: func(context.Context, uuid.UUID, time.Time) (*domain.Job, bool, error) {
				return nil, false, store.ErrUnavailable
			},
		}
		job, err := domain.NewJob("jobs/a/input/talk.wav", "")
		require.NoError(t, err)
		exec := NewExecutor(jobs, succeeding(), nil, fastConfig(), setupTestLogger())

		assert.Equal(t, queue.AckRetry, exec.Handle(context.Background(), deliveryFor(t, job)))
	})

	t.Run("terminal write failure leaves message pending", func(t *testing.T) {
		t.Parallel()
		jobs := &mocks.MockJobStore{
			Fallback: memory.NewJobStore(0),
			ApplyFn: func(context.Context, uuid.UUID, domain.JobPatch) (*domain.Job, error) {
				return nil, errors.New("connection reset")
			},
		}
		job := createJob(t, jobs, "talk.wav")
		exec := NewExecutor(jobs, succeeding(), nil, fastConfig(), setupTestLogger())

		assert.Equal(t, queue.AckAbandon, exec.Handle(context.Background(), deliveryFor(t, job)))
		require.Len(t, jobs.AppliedPatches(), 1)
		assert.Equal(t, domain.JobStatusCompleted, jobs.AppliedPatches()[0].Status)
	})
}

func TestNewExecutor_AppliesDefaults(t *testing.T) {
	t.Parallel()

	exec := NewExecutor(memory.NewJobStore(0), succeeding(), nil, ExecutorConfig{}, setupTestLogger())

	assert.Equal(t, DefaultExecutorConfig(), exec.config)

	exec = NewExecutor(memory.NewJobStore(0), succeeding(), nil, ExecutorConfig{
		SoftLimit:         10 * time.Minute,
		HardLimit:         5 * time.Minute,
		HeartbeatInterval: time.Minute,
		LeaseTimeout:      time.Second,
	}, setupTestLogger())

	assert.Equal(t, 15*time.Minute, exec.config.HardLimit)
	assert.Equal(t, 10*time.Minute, exec.config.LeaseTimeout)
}
