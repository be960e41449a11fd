package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/contentforge/internal/model"
	"github.com/hitoshi/contentforge/internal/worker/dispatch"
)

func newResumer(f *driverFixture) *Resumer {
	return NewResumer(f.env.Engine, f.env.Store, f.enqueuer, 15*time.Minute, f.env.Logger)
}

func TestResumer_RequeuesQueuedAfterFailedEnqueue(t *testing.T) {
	f := newDriverFixture(t, Options{})
	f.enqueuer.err = errors.New("queue full")
	intake := NewIntake(f.env.Engine, f.enqueuer, nil, f.env.Logger)

	_, err := intake.Submit(context.Background(), "https://youtu.be/abc", "user@example.com")
	require.True(t, model.HasCode(err, model.ErrCodeQueueUnavailable), "got %v", err)
	ids, err := f.env.Store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	id := ids[0]

	f.enqueuer.err = nil
	r := newResumer(f)

	// 猶予期間内は再投入しない
	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Requeued)
	assert.Empty(t, f.enqueuer.Jobs())

	f.env.Clock.Advance(16 * time.Minute)
	res, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Requeued)
	jobs := f.enqueuer.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, dispatch.KindGenerate, jobs[0].Kind)
	assert.Equal(t, id, jobs[0].RequestID)

	// 同じレコードを続けて再投入しない
	res, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Requeued)
	assert.Len(t, f.enqueuer.Jobs(), 1)

	require.NoError(t, f.driver.Process(context.Background(), id))
	assert.Equal(t, model.StatusGenerated, f.env.MustGet(t, id).Status)
}

func TestResumer_RequeueFailureIsCounted(t *testing.T) {
	f := newDriverFixture(t, Options{})
	f.env.Create(t)
	f.enqueuer.err = errors.New("queue full")

	f.env.Clock.Advance(16 * time.Minute)
	res, err := newResumer(f).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Requeued)
	assert.Equal(t, 1, res.Failed)
}

func TestResumer_ResumesStalledTranscription(t *testing.T) {
	f := newDriverFixture(t, Options{})
	id := f.env.Create(t)
	f.env.AdvanceTo(t, id, model.StatusTranscribing)

	f.env.Clock.Advance(16 * time.Minute)
	res, err := newResumer(f).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)
	require.Len(t, f.enqueuer.Jobs(), 1)

	require.NoError(t, f.driver.Process(context.Background(), id))
	req := f.env.MustGet(t, id)
	assert.Equal(t, model.StatusGenerated, req.Status)
	assert.Equal(t, "a transcript", req.Transcript)
	assert.Equal(t, "Blog", req.BlogPost)
}

func TestResumer_InterruptsStalledGeneration(t *testing.T) {
	f := newDriverFixture(t, Options{})
	id := f.env.Create(t)
	f.env.AdvanceTo(t, id, model.StatusGenerating)
	fresh := f.env.Create(t)
	f.env.AdvanceTo(t, fresh, model.StatusGenerating)

	f.env.Clock.Advance(16 * time.Minute)
	// freshは直前に更新されたことにする
	_, err := f.env.Engine.ApplyTransition(context.Background(), fresh,
		[]model.Status{model.StatusGenerating}, model.StatusGenerated, func(r *model.ContentRequest) error {
			r.BlogPost, r.ShortPost, r.ProfessionalPost = "b", "s", "p"
			return nil
		})
	require.NoError(t, err)

	res, err := newResumer(f).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Interrupted)
	assert.Equal(t, 0, res.Requeued)
	assert.Empty(t, f.enqueuer.Jobs())

	req := f.env.MustGet(t, id)
	assert.Equal(t, model.StatusError, req.Status)
	assert.Equal(t, interruptedMessage, req.Error)
	assert.Equal(t, model.StatusGenerated, f.env.MustGet(t, fresh).Status)
}

func TestResumer_IgnoresLaterStages(t *testing.T) {
	f := newDriverFixture(t, Options{})
	for _, status := range []model.Status{model.StatusGenerated, model.StatusPendingApproval, model.StatusApproved, model.StatusPublished} {
		id := f.env.Create(t)
		f.env.AdvanceTo(t, id, status)
	}

	f.env.Clock.Advance(time.Hour)
	res, err := newResumer(f).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResumeResult{Scanned: 4}, res)
	assert.Empty(t, f.enqueuer.Jobs())
}

func TestProcess_ActiveTranscriptionIsNotRestarted(t *testing.T) {
	f := newDriverFixture(t, Options{})
	id := f.env.Create(t)
	f.env.AdvanceTo(t, id, model.StatusTranscribing)

	err := f.driver.Process(context.Background(), id)
	assert.True(t, model.HasCode(err, model.ErrCodeInvalidTransition), "got %v", err)
	assert.Equal(t, model.StatusTranscribing, f.env.MustGet(t, id).Status)
	assert.Zero(t, f.generator.calls.Load())
}

func TestResumer_StartStopsOnCancel(t *testing.T) {
	f := newDriverFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		newResumer(f).Start(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Resumer.Start did not return after cancel")
	}
}
