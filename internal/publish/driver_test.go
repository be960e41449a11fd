package publish

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/contentforge/internal/content/contenttest"
	"github.com/hitoshi/contentforge/internal/mailer"
	"github.com/hitoshi/contentforge/internal/model"
	"github.com/hitoshi/contentforge/internal/worker/dispatch"
)

type mockEnqueuer struct {
	mu   sync.Mutex
	jobs []dispatch.Job
	err  error
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, job dispatch.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

type mockMailer struct {
	sent   []mailer.Message
	sendFn func(ctx context.Context, msg mailer.Message) error
}

func (m *mockMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.sent = append(m.sent, msg)
	if m.sendFn != nil {
		return m.sendFn(ctx, msg)
	}
	return nil
}

func newDriver(t *testing.T) (*Driver, *contenttest.Env, *mockEnqueuer, *mockMailer) {
	t.Helper()
	env := contenttest.NewEnv(t)
	enq := &mockEnqueuer{}
	m := &mockMailer{}
	return NewDriver(env.Engine, enq, m, "", nil, env.Logger), env, enq, m
}

func TestNormalizeHandle(t *testing.T) {
	tests := map[string]string{
		"@demo":        "demo",
		"  @demo  ":    "demo",
		"demo":         "demo",
		"@@demo":       "@demo",
		"de mo":        "demo",
		"  ":           "",
		"@":            "",
		"\t@jane doe\n": "janedoe",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeHandle(in), "input %q", in)
	}
}

func TestTrigger(t *testing.T) {
	d, env, enq, _ := newDriver(t)
	id := env.Create(t)
	env.AdvanceTo(t, id, model.StatusApproved)

	req, err := d.Trigger(context.Background(), id, model.Handles{DevTo: "@demo", X: "demo", LinkedIn: ""})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublishing, req.Status)

	stored := env.MustGet(t, id)
	require.NotNil(t, stored.Handles)
	assert.Equal(t, "@demo", stored.Handles.DevTo)

	require.Len(t, enq.jobs, 1)
	assert.Equal(t, dispatch.KindPublish, enq.jobs[0].Kind)
	assert.Equal(t, id, enq.jobs[0].RequestID)
}

func TestTrigger_RequiresApproved(t *testing.T) {
	for _, status := range []model.Status{model.StatusGenerated, model.StatusPendingApproval, model.StatusPublishing, model.StatusPublished} {
		t.Run(string(status), func(t *testing.T) {
			d, env, enq, _ := newDriver(t)
			id := env.Create(t)
			env.AdvanceTo(t, id, status)

			_, err := d.Trigger(context.Background(), id, model.Handles{})
			assert.True(t, model.HasCode(err, model.ErrCodeInvalidTransition), "got %v", err)
			assert.Empty(t, enq.jobs)
			assert.Equal(t, status, env.MustGet(t, id).Status)
		})
	}
}

func TestTrigger_NotFound(t *testing.T) {
	d, _, _, _ := newDriver(t)
	_, err := d.Trigger(context.Background(), "missing", model.Handles{})
	assert.True(t, model.HasCode(err, model.ErrCodeNotFound))
}

func TestTrigger_QueueUnavailablePublishesInline(t *testing.T) {
	d, env, enq, m := newDriver(t)
	enq.err = errors.New("full")
	id := env.Create(t)
	env.AdvanceTo(t, id, model.StatusApproved)

	req, err := d.Trigger(context.Background(), id, model.Handles{DevTo: "@demo"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, req.Status)
	assert.Empty(t, enq.jobs)

	stored := env.MustGet(t, id)
	assert.Equal(t, model.StatusPublished, stored.Status)
	require.NotNil(t, stored.PublishedAt)
	assert.Equal(t, "demo", stored.Results[model.ResultBlog].Handle)
	assert.Len(t, m.sent, 1)

	// キュー復旧後の再送は公開済みのため遷移エラーになり、記録は変わらない
	enq.err = nil
	_, err = d.Trigger(context.Background(), id, model.Handles{})
	assert.True(t, model.HasCode(err, model.ErrCodeInvalidTransition), "got %v", err)
	assert.Equal(t, stored, env.MustGet(t, id))
	assert.Empty(t, enq.jobs)
}

func TestTrigger_QueueUnavailableInlineFailure(t *testing.T) {
	d, env, enq, m := newDriver(t)
	enq.err = errors.New("full")
	id := env.Create(t)
	env.AdvanceTo(t, id, model.StatusGenerating)
	// 生成物なしでgeneratedへ進めた異常データを作る
	_, err := env.Engine.ApplyTransition(context.Background(), id,
		[]model.Status{model.StatusGenerating}, model.StatusGenerated, nil)
	require.NoError(t, err)
	env.AdvanceTo(t, id, model.StatusApproved)

	_, err = d.Trigger(context.Background(), id, model.Handles{})
	assert.True(t, model.HasCode(err, model.ErrCodeFatal), "got %v", err)
	assert.Equal(t, model.StatusPublishing, env.MustGet(t, id).Status)
	assert.Empty(t, m.sent)
}

func TestExecute(t *testing.T) {
	d, env, _, m := newDriver(t)
	id := env.Create(t)
	env.AdvanceTo(t, id, model.StatusApproved)
	_, err := d.Trigger(context.Background(), id, model.Handles{DevTo: " @demo ", X: "@demo", LinkedIn: ""})
	require.NoError(t, err)

	require.NoError(t, d.Execute(context.Background(), id))

	req := env.MustGet(t, id)
	assert.Equal(t, model.StatusPublished, req.Status)
	require.NotNil(t, req.PublishedAt)
	require.Len(t, req.Results, 3)

	blog := req.Results[model.ResultBlog]
	assert.Equal(t, "Dev.to", blog.Platform)
	assert.Equal(t, "demo", blog.Handle)
	assert.Equal(t, "https://dev.to/demo/article-"+id, blog.URL)
	assert.True(t, blog.Published)

	tweet := req.Results[model.ResultTweet]
	assert.Equal(t, "X", tweet.Platform)
	assert.Equal(t, "https://x.com/demo/status/"+id, tweet.URL)

	linkedIn := req.Results[model.ResultLinkedIn]
	assert.Equal(t, "LinkedIn", linkedIn.Platform)
	assert.Equal(t, DefaultHandle, linkedIn.Handle)
	assert.Equal(t, "https://linkedin.com/in/contentforge", linkedIn.URL)

	// 全結果が同じ時刻を共有する
	assert.Equal(t, *req.PublishedAt, blog.PublishedAt)
	assert.Equal(t, blog.PublishedAt, tweet.PublishedAt)
	assert.Equal(t, blog.PublishedAt, linkedIn.PublishedAt)

	require.Len(t, m.sent, 1)
	assert.Equal(t, "user@example.com", m.sent[0].To)
	assert.Contains(t, m.sent[0].HTML, "https://dev.to/demo/article-"+id)
}

func TestExecute_CustomFallbackHandle(t *testing.T) {
	env := contenttest.NewEnv(t)
	d := NewDriver(env.Engine, &mockEnqueuer{}, &mockMailer{}, "@forge", nil, env.Logger)
	id := env.Create(t)
	env.AdvanceTo(t, id, model.StatusApproved)
	_, err := d.Trigger(context.Background(), id, model.Handles{DevTo: "  "})
	require.NoError(t, err)

	require.NoError(t, d.Execute(context.Background(), id))
	assert.Equal(t, "forge", env.MustGet(t, id).Results[model.ResultBlog].Handle)
}

func TestExecute_Idempotent(t *testing.T) {
	d, env, _, m := newDriver(t)
	id := env.Create(t)
	env.AdvanceTo(t, id, model.StatusPublishing)

	require.NoError(t, d.Execute(context.Background(), id))
	first := env.MustGet(t, id)

	err := d.Execute(context.Background(), id)
	assert.True(t, model.HasCode(err, model.ErrCodeInvalidTransition))
	assert.Equal(t, first, env.MustGet(t, id))
	assert.Len(t, m.sent, 1)
}

func TestExecute_MissingArtifactsIsFatal(t *testing.T) {
	d, env, _, m := newDriver(t)
	id := env.Create(t)
	env.AdvanceTo(t, id, model.StatusGenerating)
	// 生成物なしでgeneratedへ進めた異常データを作る
	_, err := env.Engine.ApplyTransition(context.Background(), id,
		[]model.Status{model.StatusGenerating}, model.StatusGenerated, nil)
	require.NoError(t, err)
	env.AdvanceTo(t, id, model.StatusPublishing)
	before := env.MustGet(t, id)

	err = d.Execute(context.Background(), id)
	assert.True(t, model.HasCode(err, model.ErrCodeFatal))
	assert.Equal(t, before, env.MustGet(t, id))
	assert.Empty(t, m.sent)
}

func TestExecute_MailFailureKeepsPublished(t *testing.T) {
	d, env, _, m := newDriver(t)
	m.sendFn = func(ctx context.Context, msg mailer.Message) error { return errors.New("mail down") }
	id := env.Create(t)
	env.AdvanceTo(t, id, model.StatusPublishing)

	require.NoError(t, d.Execute(context.Background(), id))
	assert.Equal(t, model.StatusPublished, env.MustGet(t, id).Status)
	assert.Contains(t, env.Logs.String(), "mail down")
}
