package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/pkgmirror/internal/mirror"
	"github.com/mirrorctl/pkgmirror/internal/versions"
)

var syncCmd = &cobra.Command{
	Use:   "sync [vendor/slug...]",
	Short: "Capture every pending version into its repository",
	Long: `Aggregates the configured sources, computes the versions missing from the
ledger and captures each of them as a commit and tag in the package's
destination repository.

Usage:
  # Capture pending versions of every package in the ledger
  pkgmirror sync

  # Capture only specific packages
  pkgmirror sync acme/widgets acme/gadgets

  # Show what would be captured
  pkgmirror sync --dry-run

Exit status:
  0  at least one version was recorded
  1  configuration or run failure
  3  nothing was pending
  4  versions were pending but none could be captured`,
	Run: runSync,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List versions that have not been captured yet",
	Long: `Aggregates the configured sources and lists, per ledger package, the
versions that are not yet captured, in capture order.`,
	Args: cobra.NoArgs,
	Run:  runPending,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pendingCmd)

	syncCmd.Flags().Bool("dry-run", false, "compute pending versions without capturing them")
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSync(cmd *cobra.Command, args []string) {
	config := loadConfig(cmd)
	quiet, _ := cmd.Flags().GetBool("quiet")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	ctx, cancel := signalContext()
	defer cancel()

	report, err := mirror.Run(ctx, config, mirror.Options{
		Packages: args,
		DryRun:   dryRun,
		Quiet:    quiet,
	})
	if err != nil {
		if errors.Is(err, mirror.ErrLocked) {
			slog.Error("another pkgmirror run is in progress", "data_dir", config.DataDir)
			os.Exit(mirror.ExitFailure)
		}
		fail(cmd, "mirror run failed", err)
	}

	out := cmd.OutOrStdout()
	if dryRun {
		renderSources(out, report.Plan.Sources)
		renderPending(out, report.Plan.Updates)
	} else if !quiet {
		renderReport(out, report)
	}
	cancel()
	os.Exit(report.ExitCode())
}

func runPending(cmd *cobra.Command, _ []string) {
	config := loadConfig(cmd)

	ctx, cancel := signalContext()
	defer cancel()

	plan, err := mirror.BuildPlan(ctx, config)
	if err != nil {
		fail(cmd, "failed to compute pending versions", err)
	}
	out := cmd.OutOrStdout()
	renderSources(out, plan.Sources)
	renderPending(out, plan.Updates)
}

func renderSources(out io.Writer, results []mirror.FetchResult) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"SOURCE", "OUTCOME", "STATUS", "PACKAGES"})
	for _, res := range results {
		packages := 0
		if res.Index != nil {
			packages = res.Index.Len()
		}
		t.AppendRow(table.Row{res.Source, res.Outcome.String(), res.Status, packages})
	}
	t.Render()
}

func renderPending(out io.Writer, updates []mirror.Update) {
	if len(updates) == 0 {
		fmt.Fprintln(out, "No pending updates.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"PACKAGE", "PENDING", "NEWEST", "VERSIONS"})
	for _, u := range updates {
		labels := u.Labels()
		t.AppendRow(table.Row{u.Key, len(labels), versions.Latest(labels), strings.Join(labels, " ")})
	}
	t.AppendSeparator()
	t.Render()
}

func renderReport(out io.Writer, report *mirror.Report) {
	if report.Plan == nil || len(report.Packages) == 0 {
		fmt.Fprintln(out, "No pending updates.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"PACKAGE", "VERSION", "RESULT", "REF"})
	for _, pkg := range report.Packages {
		if pkg.Err != nil {
			t.AppendRow(table.Row{pkg.Package, "-", "aborted: " + pkg.Err.Error(), ""})
			continue
		}
		for _, u := range pkg.Units {
			result := u.Status.String()
			if u.Err != nil {
				result = "failed: " + u.Err.Error()
			}
			t.AppendRow(table.Row{u.Package, u.Version, result, u.Ref})
		}
	}
	t.AppendSeparator()
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d committed, %d no-op, %d failed",
		report.Count(mirror.CaptureCommitted), report.Count(mirror.CaptureNoOp), report.Failed()), ""})
	t.Render()
}
