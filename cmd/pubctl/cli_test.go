package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/internal/api"
	"github.com/kiranshivaraju/publishq/internal/api/handler"
	mw "github.com/kiranshivaraju/publishq/internal/api/middleware"
	"github.com/kiranshivaraju/publishq/internal/platform"
	"github.com/kiranshivaraju/publishq/internal/platform/mock"
	"github.com/kiranshivaraju/publishq/internal/publish"
	"github.com/kiranshivaraju/publishq/internal/quota"
	"github.com/kiranshivaraju/publishq/internal/testsupport"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testKey = "pq_cli_test_key_0123456789"

type cliTestEnv struct {
	url   string
	store *testsupport.MemoryStore
	orch  *publish.Orchestrator
	fx    testsupport.Fixture
}

func setupCLITestEnv(t *testing.T, adapter *mock.Adapter) *cliTestEnv {
	t.Helper()
	t.Setenv("PUBLISHQ_API_KEY", "")
	t.Setenv("PUBLISHQ_URL", "")

	st := testsupport.NewMemoryStore()
	mc := testsupport.NewMemoryCache()
	orch := publish.New(st, quota.NewMemoryTracker(quota.Limits{adapter.Name: 10000}), platform.NewRegistry(adapter))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Close(ctx)
	})
	fx := testsupport.Seed(st, adapter.Name)

	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, st.CreateAPIKey(context.Background(), &models.APIKey{
		ID: uuid.New(), ClientID: fx.ClientID, Name: "cli", KeyHash: string(hash), KeyPrefix: testKey[:8],
	}))

	srv := httptest.NewServer(api.NewRouter(api.Dependencies{
		Auth:             mw.NewAuth(st),
		RateLimit:        mw.NewRateLimit(mc, 1000),
		Idempotency:      mw.NewIdempotency(mc),
		PublishHandler:   handler.NewPublishHandler(orch),
		ListJobsHandler:  handler.NewListJobsHandler(orch),
		GetJobHandler:    handler.NewGetJobHandler(orch),
		JobEventsHandler: handler.NewJobEventsHandler(orch),
		RetryHandler:     handler.NewRetryHandler(orch),
		CancelHandler:    handler.NewCancelHandler(orch),
		QuotaHandler:     handler.NewQuotaHandler(orch),
	}))
	t.Cleanup(srv.Close)

	return &cliTestEnv{url: srv.URL, store: st, orch: orch, fx: fx}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--server", e.url, "--api-key", testKey}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliTestEnv) publishArgs(extra ...string) []string {
	return append([]string{
		"publish",
		"--submission", e.fx.SubmissionID.String(),
		"--video", e.fx.VideoID.String(),
		"--platform", string(e.fx.Platform),
		"--title", "Launch day",
		"--tag", "launch", "--tag", "news",
	}, extra...)
}

func TestPublishWait_EndsLive(t *testing.T) {
	env := setupCLITestEnv(t, mock.NewAdapter(models.PlatformYouTube))

	out, err := env.run(t, env.publishArgs("--wait")...)
	require.NoError(t, err)
	assert.Contains(t, out, "live")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "https://")
}

func TestPublish_JSONThenJobCommands(t *testing.T) {
	env := setupCLITestEnv(t, mock.NewAdapter(models.PlatformYouTube))

	out, err := env.run(t, append([]string{"--json"}, env.publishArgs()...)...)
	require.NoError(t, err)
	var job models.PublishJob
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, []string{"launch", "news"}, job.Tags)

	out, err = env.run(t, "job", "wait", job.ID.String(), "--interval", "5ms", "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "live")

	out, err = env.run(t, "job", "get", job.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, job.ID.String())
	assert.Contains(t, out, "Launch day")

	out, err = env.run(t, "job", "events", job.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "processing")

	out, err = env.run(t, "jobs", "--status", "live")
	require.NoError(t, err)
	assert.Contains(t, out, job.ID.String())
	assert.Contains(t, out, "page 1, 1 of 1")

	out, err = env.run(t, "quota", "--platform", "youtube")
	require.NoError(t, err)
	assert.Contains(t, out, "1600")
}

func TestPublish_PreconditionFailureIsError(t *testing.T) {
	env := setupCLITestEnv(t, mock.NewAdapter(models.PlatformYouTube))
	env.store.Disconnect(env.fx.ClientID, env.fx.Platform)

	out, err := env.run(t, env.publishArgs()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "precondition")
	assert.Contains(t, out, "failed")
}

func TestRetryAndCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	env := setupCLITestEnv(t, mock.NewBlockingAdapter(models.PlatformYouTube, release))

	out, err := env.run(t, append([]string{"--json"}, env.publishArgs()...)...)
	require.NoError(t, err)
	var job models.PublishJob
	require.NoError(t, json.Unmarshal([]byte(out), &job))

	require.Eventually(t, func() bool {
		j, err := env.store.GetJob(context.Background(), job.ID)
		return err == nil && j.Status == models.JobStatusUploading
	}, 5*time.Second, 5*time.Millisecond)

	out, err = env.run(t, "cancel", job.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	_, err = env.run(t, "retry", job.ID.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_STATE")
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("PUBLISHQ_API_KEY", "")
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"jobs"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API key")
}

func TestInvalidJobID(t *testing.T) {
	env := setupCLITestEnv(t, mock.NewAdapter(models.PlatformYouTube))

	_, err := env.run(t, "job", "get", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job id")
}
