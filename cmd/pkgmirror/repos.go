package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/pkgmirror/internal/mirror"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Inspect destination repositories on the hosting service",
}

var reposListCmd = &cobra.Command{
	Use:   "list",
	Short: "List repositories of the hosting owner",
	Args:  cobra.NoArgs,
	Run:   runReposList,
}

var reposDeleteCmd = &cobra.Command{
	Use:   "delete <slug>",
	Short: "Delete a destination repository",
	Long: `Deletes a destination repository on the hosting service. The ledger is
left as it is.

Examples:
  pkgmirror repos delete widgets
  pkgmirror repos delete widgets --yes`,
	Args: cobra.ExactArgs(1),
	Run:  runReposDelete,
}

func init() {
	rootCmd.AddCommand(reposCmd)
	reposCmd.AddCommand(reposListCmd)
	reposCmd.AddCommand(reposDeleteCmd)

	reposDeleteCmd.Flags().Bool("yes", false, "do not ask for confirmation")
}

func runReposList(cmd *cobra.Command, _ []string) {
	config := loadConfig(cmd)
	provider, err := mirror.NewProvider(config)
	if err != nil {
		fail(cmd, "failed to configure hosting", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	repos, err := provider.ListRepositories(ctx)
	if err != nil {
		fail(cmd, "failed to list repositories", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"NAME", "PRIVATE", "URL"})
	for _, r := range repos {
		t.AppendRow(table.Row{r.Name, r.Private, r.HTMLURL})
	}
	t.AppendSeparator()
	t.AppendFooter(table.Row{fmt.Sprintf("%d repositories", len(repos)), "", ""})
	t.Render()
}

func runReposDelete(cmd *cobra.Command, args []string) {
	config := loadConfig(cmd)
	slug := args[0]

	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		ok, err := promptConfirm(fmt.Sprintf("Delete repository %s/%s?", config.Hosting.Owner, slug),
			"This action cannot be undone.")
		if err != nil {
			fail(cmd, "confirmation failed", err)
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing deleted.")
			return
		}
	}

	provider, err := mirror.NewProvider(config)
	if err != nil {
		fail(cmd, "failed to configure hosting", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := provider.DeleteRepository(ctx, slug); err != nil {
		fail(cmd, "failed to delete repository", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s.\n", config.Hosting.Owner, slug)
}
