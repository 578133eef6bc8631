// Package githubcli fetches GitHub data through the authenticated gh
// CLI rather than a token-bearing HTTP client. The adapter owns
// pagination mechanics, error classification, and transient retries;
// the core only ever sees opaque cursors and raw record payloads.
package githubcli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"ghscope/internal/domain/models"
	ports "ghscope/internal/domain/ports/output"
	"ghscope/internal/domain/ports/output/fetch"
	"ghscope/internal/infrastructure/config"
	"ghscope/internal/utils"
)

const retryBaseDelay = 500 * time.Millisecond

// runner executes the gh binary; swapped out in tests.
type runner func(ctx context.Context, bin string, args ...string) (stdout, stderr []byte, err error)

type Adapter struct {
	bin        string
	maxRetries int
	timeout    time.Duration
	log        ports.Logger
	run        runner
}

func New(cfg config.Fetch, log ports.Logger) *Adapter {
	return &Adapter{
		bin:        cfg.Bin,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		log:        log,
		run:        runCommand,
	}
}

func runCommand(ctx context.Context, bin string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Validate checks the gh binary is present and authenticated.
func (a *Adapter) Validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	_, stderr, err := a.run(ctx, a.bin, "auth", "status")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return utils.ErrGHNotFound
		}
		a.log.Debug("gh auth status failed", "stderr", string(stderr), "err", err)
		return utils.ErrAuthFailed
	}
	return nil
}

func (a *Adapter) Viewer(ctx context.Context) (string, error) {
	data, err := a.graphql(ctx, queryViewer, nil)
	if err != nil {
		return "", err
	}
	var payload struct {
		Viewer struct {
			Login string `json:"login"`
		} `json:"viewer"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("decode viewer response: %w", err)
	}
	return payload.Viewer.Login, nil
}

func queryFor(kind models.EntityKind) (string, error) {
	switch kind {
	case models.KindPRMerged:
		return queryMergedPRs, nil
	case models.KindPRClosed:
		return queryClosedPRs, nil
	case models.KindPROpen:
		return queryOpenPRs, nil
	case models.KindReviews:
		return queryMergedPRsWithReviews, nil
	case models.KindCommits:
		return queryCommits, nil
	case models.KindReleases:
		return queryReleases, nil
	case models.KindIssues:
		return queryIssues, nil
	default:
		return "", utils.ErrUnknownEntityKind
	}
}

// FetchPage retrieves one page of raw records for a kind. An empty
// cursor means the head of the connection.
func (a *Adapter) FetchPage(ctx context.Context, repository string, kind models.EntityKind, cursor string, pageSize int) (*fetch.RawPage, error) {
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("%w: %q", utils.ErrInvalidRepository, repository)
	}
	query, err := queryFor(kind)
	if err != nil {
		return nil, err
	}

	vars := map[string]string{
		"owner":        owner,
		"name":         name,
		"first=number": strconv.Itoa(pageSize),
	}
	if cursor != "" {
		vars["cursor"] = cursor
	}
	data, err := a.graphql(ctx, query, vars)
	if err != nil {
		return nil, err
	}
	conn, err := extractConnection(kind, data)
	if err != nil {
		return nil, err
	}

	page := &fetch.RawPage{Exhausted: !conn.PageInfo.HasNextPage}
	if conn.PageInfo.HasNextPage {
		page.NextCursor = conn.PageInfo.EndCursor
	}
	for _, edge := range conn.Edges {
		page.Records = append(page.Records, edge.Node)
	}
	a.log.Debug("fetched page", "repository", repository, "kind", kind,
		"records", len(page.Records), "exhausted", page.Exhausted)
	return page, nil
}

type connection struct {
	Edges []struct {
		Node json.RawMessage `json:"node"`
	} `json:"edges"`
	PageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	} `json:"pageInfo"`
}

func extractConnection(kind models.EntityKind, data []byte) (*connection, error) {
	var conn connection
	switch kind {
	case models.KindCommits:
		var payload struct {
			Repository struct {
				DefaultBranchRef struct {
					Target struct {
						History connection `json:"history"`
					} `json:"target"`
				} `json:"defaultBranchRef"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode commit page: %w", err)
		}
		conn = payload.Repository.DefaultBranchRef.Target.History
	case models.KindReleases:
		var payload struct {
			Repository struct {
				Releases connection `json:"releases"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode release page: %w", err)
		}
		conn = payload.Repository.Releases
	case models.KindIssues:
		var payload struct {
			Repository struct {
				Issues connection `json:"issues"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode issue page: %w", err)
		}
		conn = payload.Repository.Issues
	default:
		var payload struct {
			Repository struct {
				PullRequests connection `json:"pullRequests"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode pull request page: %w", err)
		}
		conn = payload.Repository.PullRequests
	}
	return &conn, nil
}

// graphql executes one query via gh api graphql, retrying transient
// failures with jittered exponential backoff. Keys in vars suffixed
// "=number" are sent with -F so gh types them as Int.
func (a *Adapter) graphql(ctx context.Context, query string, vars map[string]string) (json.RawMessage, error) {
	args := []string{"api", "graphql", "-f", "query=" + query}
	for key, value := range vars {
		if name, ok := strings.CutSuffix(key, "=number"); ok {
			args = append(args, "-F", name+"="+value)
		} else {
			args = append(args, "-f", key+"="+value)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(retryBaseDelay)))
			a.log.Warn("retrying after transient fetch error", "attempt", attempt, "delay", delay, "err", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := a.runGraphQL(ctx, args)
		if err == nil {
			return data, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch failed after %d retries: %w", a.maxRetries, lastErr)
}

func (a *Adapter) runGraphQL(ctx context.Context, args []string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	stdout, stderr, err := a.run(ctx, a.bin, args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, utils.ErrGHNotFound
		}
		return nil, classify(string(stderr), err)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(stdout, &envelope); err != nil {
		return nil, fmt.Errorf("invalid graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			if e.Type == "NOT_FOUND" {
				return nil, utils.ErrRepoNotFound
			}
			msgs = append(msgs, e.Message)
		}
		return nil, classify(strings.Join(msgs, "; "), errors.New("graphql errors"))
	}
	return envelope.Data, nil
}

// classify maps gh output onto the error taxonomy. Anything rate-limit
// or server-side shaped is wrapped as transient so the retry loop picks
// it up; auth and not-found failures surface immediately.
func classify(detail string, cause error) error {
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "could not resolve to a repository"),
		strings.Contains(lower, "404"):
		return utils.ErrRepoNotFound
	case strings.Contains(lower, "401"),
		strings.Contains(lower, "authentication"),
		strings.Contains(lower, "not logged in"):
		return utils.ErrAuthFailed
	case strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "rate_limited"),
		strings.Contains(lower, "502"),
		strings.Contains(lower, "503"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "timed out"):
		return &transientError{detail: detail, cause: cause}
	}
	if detail == "" {
		return cause
	}
	return fmt.Errorf("%s: %w", strings.TrimSpace(detail), cause)
}

type transientError struct {
	detail string
	cause  error
}

func (e *transientError) Error() string {
	return fmt.Sprintf("transient fetch error: %s", strings.TrimSpace(e.detail))
}

func (e *transientError) Unwrap() error { return e.cause }

func isTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
