package githubcli

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ghscope/internal/domain/models"
	"ghscope/internal/infrastructure/config"
	"ghscope/internal/infrastructure/logger"
	"ghscope/internal/utils"
)

type runResult struct {
	stdout string
	stderr string
	err    error
}

type scriptedRunner struct {
	results []runResult
	calls   [][]string
}

func (r *scriptedRunner) run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	r.calls = append(r.calls, args)
	if len(r.results) == 0 {
		return nil, nil, errors.New("unexpected call")
	}
	res := r.results[0]
	r.results = r.results[1:]
	return []byte(res.stdout), []byte(res.stderr), res.err
}

func newTestAdapter(runner *scriptedRunner, maxRetries int) *Adapter {
	a := New(config.Fetch{Bin: "gh", PageSize: 50, MaxRetries: maxRetries, Timeout: 5 * time.Second}, logger.New("test"))
	a.run = runner.run
	return a
}

const prPage = `{
  "data": {
    "repository": {
      "pullRequests": {
        "edges": [
          {"node": {"number": 1, "title": "fix: crash"}},
          {"node": {"number": 2, "title": "feat: export"}}
        ],
        "pageInfo": {"hasNextPage": true, "endCursor": "cursor-1"}
      }
    }
  }
}`

func TestFetchPage(t *testing.T) {
	t.Run("first page omits the cursor variable", func(t *testing.T) {
		runner := &scriptedRunner{results: []runResult{{stdout: prPage}}}
		a := newTestAdapter(runner, 0)

		page, err := a.FetchPage(context.Background(), "acme/widgets", models.KindPRMerged, "", 50)
		require.NoError(t, err)
		require.Len(t, page.Records, 2)
		require.Equal(t, "cursor-1", page.NextCursor)
		require.False(t, page.Exhausted)

		joined := strings.Join(runner.calls[0], " ")
		require.Contains(t, joined, "owner=acme")
		require.Contains(t, joined, "name=widgets")
		require.Contains(t, joined, "first=50")
		require.NotContains(t, joined, "cursor=")
	})

	t.Run("later pages pass the cursor", func(t *testing.T) {
		runner := &scriptedRunner{results: []runResult{{stdout: prPage}}}
		a := newTestAdapter(runner, 0)

		_, err := a.FetchPage(context.Background(), "acme/widgets", models.KindPRMerged, "cursor-1", 50)
		require.NoError(t, err)
		require.Contains(t, strings.Join(runner.calls[0], " "), "cursor=cursor-1")
	})

	t.Run("exhausted connection has no cursor", func(t *testing.T) {
		done := strings.Replace(prPage, `"hasNextPage": true`, `"hasNextPage": false`, 1)
		runner := &scriptedRunner{results: []runResult{{stdout: done}}}
		a := newTestAdapter(runner, 0)

		page, err := a.FetchPage(context.Background(), "acme/widgets", models.KindPRMerged, "", 50)
		require.NoError(t, err)
		require.True(t, page.Exhausted)
		require.Empty(t, page.NextCursor)
	})

	t.Run("rejects malformed repository", func(t *testing.T) {
		a := newTestAdapter(&scriptedRunner{}, 0)
		_, err := a.FetchPage(context.Background(), "not-a-repo", models.KindPRMerged, "", 50)
		require.ErrorIs(t, err, utils.ErrInvalidRepository)
	})

	t.Run("maps graphql NOT_FOUND", func(t *testing.T) {
		body := `{"errors": [{"type": "NOT_FOUND", "message": "Could not resolve to a Repository"}]}`
		runner := &scriptedRunner{results: []runResult{{stdout: body}}}
		a := newTestAdapter(runner, 0)

		_, err := a.FetchPage(context.Background(), "acme/gone", models.KindPRMerged, "", 50)
		require.ErrorIs(t, err, utils.ErrRepoNotFound)
	})

	t.Run("retries rate limits then succeeds", func(t *testing.T) {
		runner := &scriptedRunner{results: []runResult{
			{stderr: "HTTP 403: API rate limit exceeded", err: errors.New("exit status 1")},
			{stdout: prPage},
		}}
		a := newTestAdapter(runner, 2)

		page, err := a.FetchPage(context.Background(), "acme/widgets", models.KindPRMerged, "", 50)
		require.NoError(t, err)
		require.Len(t, page.Records, 2)
		require.Len(t, runner.calls, 2)
	})

	t.Run("auth failures are not retried", func(t *testing.T) {
		runner := &scriptedRunner{results: []runResult{
			{stderr: "HTTP 401: authentication required", err: errors.New("exit status 1")},
		}}
		a := newTestAdapter(runner, 3)

		_, err := a.FetchPage(context.Background(), "acme/widgets", models.KindPRMerged, "", 50)
		require.ErrorIs(t, err, utils.ErrAuthFailed)
		require.Len(t, runner.calls, 1)
	})
}

func TestIssuesQueryCarriesCommentContext(t *testing.T) {
	// The first comment is often the reporter's own follow-up; the
	// normalizer needs several candidates to find a real response.
	require.Contains(t, queryIssues, "comments(first: 5)")
}

func TestViewer(t *testing.T) {
	runner := &scriptedRunner{results: []runResult{
		{stdout: `{"data": {"viewer": {"login": "octocat"}}}`},
	}}
	a := newTestAdapter(runner, 0)

	login, err := a.Viewer(context.Background())
	require.NoError(t, err)
	require.Equal(t, "octocat", login)
}

func TestValidate(t *testing.T) {
	t.Run("missing binary", func(t *testing.T) {
		runner := &scriptedRunner{results: []runResult{{err: exec.ErrNotFound}}}
		a := newTestAdapter(runner, 0)
		require.ErrorIs(t, a.Validate(context.Background()), utils.ErrGHNotFound)
	})

	t.Run("not authenticated", func(t *testing.T) {
		runner := &scriptedRunner{results: []runResult{
			{stderr: "You are not logged into any GitHub hosts", err: errors.New("exit status 1")},
		}}
		a := newTestAdapter(runner, 0)
		require.ErrorIs(t, a.Validate(context.Background()), utils.ErrAuthFailed)
	})

	t.Run("authenticated", func(t *testing.T) {
		runner := &scriptedRunner{results: []runResult{{stdout: "Logged in to github.com"}}}
		a := newTestAdapter(runner, 0)
		require.NoError(t, a.Validate(context.Background()))
	})
}
