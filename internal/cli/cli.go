// Package cli defines the ghscope command tree. The root command with a
// bare owner/repo argument prints the scorecard; subcommands select a
// single report. All output flows through the render package.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"ghscope/internal/domain/models"
	"ghscope/internal/domain/ports/input"
	ports "ghscope/internal/domain/ports/output"
	"ghscope/internal/domain/ports/output/cache"
	"ghscope/internal/infrastructure/render"
	"ghscope/internal/utils"

	"github.com/spf13/cobra"
)

// validator is the slice of the fetch adapter the CLI needs before
// going online.
type validator interface {
	Validate(ctx context.Context) error
}

type Deps struct {
	Reports input.ReportInputPort
	Store   cache.CacheStore
	Fetcher validator
	Log     ports.Logger
}

type options struct {
	days    int
	limit   int
	offline bool
	noCache bool
	jsonOut bool
	format  string
	author  string
}

func (o *options) mode() (models.FreshnessMode, error) {
	if o.offline && o.noCache {
		return "", errors.New("--offline and --no-cache are mutually exclusive")
	}
	switch {
	case o.offline:
		return models.ModeOffline, nil
	case o.noCache:
		return models.ModeRefresh, nil
	default:
		return models.ModeCached, nil
	}
}

func (o *options) outputFormat() string {
	if o.jsonOut {
		return render.FormatJSON
	}
	return o.format
}

// New builds the full command tree.
func New(deps Deps) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "ghscope <owner/repo>",
		Short:         "Point-in-time PR lifecycle intelligence for a GitHub repository",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, deps, opts, args[0], models.ReportScorecard)
		},
	}

	pf := root.PersistentFlags()
	pf.IntVar(&opts.days, "days", 90, "lookback window in days")
	pf.IntVar(&opts.limit, "limit", 100, "max records fetched per entity kind")
	pf.BoolVar(&opts.offline, "offline", false, "never touch the network, serve cached data regardless of age")
	pf.BoolVar(&opts.noCache, "no-cache", false, "refetch even when cached data is fresh")
	pf.BoolVar(&opts.jsonOut, "json", false, "shorthand for --fmt json")
	pf.StringVar(&opts.format, "fmt", render.FormatTable, "output format: table, md, csv, json")
	pf.BoolP("verbose", "v", false, "debug logging")

	for _, rk := range []struct {
		kind  models.ReportKind
		short string
	}{
		{models.ReportTriage, "Merge flow: rates, merge times, maintainers, categories, batches"},
		{models.ReportReview, "Review bottlenecks: coverage, reviewer spread, waiting PRs"},
		{models.ReportContribs, "Contributor base: top authors, first-timers, retention, spam"},
		{models.ReportHealth, "Project pulse: commit velocity, bus factor, releases, issues"},
	} {
		rk := rk
		root.AddCommand(&cobra.Command{
			Use:   fmt.Sprintf("%s <owner/repo>", rk.kind),
			Short: rk.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runReport(cmd, deps, opts, args[0], rk.kind)
			},
		})
	}

	assess := &cobra.Command{
		Use:   "assess <owner/repo>",
		Short: "Merge probability for open PRs against the repo's merge history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, deps, opts, args[0], models.ReportAssess)
		},
	}
	assess.Flags().StringVar(&opts.author, "author", "", "assess this author's open PRs instead of your own")
	root.AddCommand(assess)

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear <owner/repo>",
		Short: "Drop all cached rows and watermarks for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deps.Store.Clear(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared cache for %s\n", args[0])
			return nil
		},
	})
	root.AddCommand(cacheCmd)

	return root
}

func runReport(cmd *cobra.Command, deps Deps, opts *options, repository string, kind models.ReportKind) error {
	mode, err := opts.mode()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if mode != models.ModeOffline {
		if err := deps.Fetcher.Validate(ctx); err != nil {
			switch {
			case errors.Is(err, utils.ErrGHNotFound):
				return errors.New("gh CLI not found; install it from https://cli.github.com")
			case errors.Is(err, utils.ErrAuthFailed):
				return errors.New("gh CLI is not authenticated; run: gh auth login")
			default:
				return err
			}
		}
	}

	set, err := deps.Reports.Build(ctx, models.ReportRequest{
		Repository: repository,
		Reports:    []models.ReportKind{kind},
		Days:       opts.days,
		Limit:      opts.limit,
		Mode:       mode,
		Author:     opts.author,
	})
	if err != nil {
		if errors.Is(err, utils.ErrNoOfflineData) {
			return fmt.Errorf("nothing cached for %s; run once without --offline first", repository)
		}
		return err
	}
	return render.Render(cmd.OutOrStdout(), set, opts.outputFormat())
}

// Execute runs the tree and maps failure onto a non-zero exit.
func Execute(root *cobra.Command) {
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
