package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/pkgmirror/internal/mirror"
)

const exitChoice = "\x00exit"

var packageCmd = &cobra.Command{
	Use:   "package",
	Short: "Manage the packages tracked in the ledger",
}

var packageChooseCmd = &cobra.Command{
	Use:   "choose",
	Short: "Register packages published by the sources but not tracked yet",
	Long: `Lists index packages that are neither a ledger key nor an alias of a
ledger package and registers the chosen ones.

Examples:
  pkgmirror package choose
  pkgmirror package choose --all`,
	Args: cobra.NoArgs,
	Run:  runPackageChoose,
}

var packageListCmd = &cobra.Command{
	Use:   "list [vendor-prefix]",
	Short: "List tracked packages",
	Long: `Lists ledger keys starting with vendor-prefix. The prefix "/" lists every
package. Remember to include the trailing slash, as in "acme/".`,
	Args: cobra.MaximumNArgs(1),
	Run:  runPackageList,
}

var checkCmd = &cobra.Command{
	Use:   "check <vendor/slug> <version>",
	Short: "Exit 0 when version is newer than the captured one",
	Long: `Compares version with the last captured version of the package. Exits 0
when the package is unknown or version is newer, and 1 otherwise.`,
	Args: cobra.ExactArgs(2),
	Run:  runCheck,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a package index of the mirrored repositories",
	Long: `Writes a package index that points at the destination repositories of
every ledger package: a dev-master entry per package plus one entry per
captured tag.

Examples:
  pkgmirror generate --host acme-mirror --out packages.json`,
	Args: cobra.NoArgs,
	Run:  runGenerate,
}

func init() {
	rootCmd.AddCommand(packageCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(generateCmd)
	packageCmd.AddCommand(packageChooseCmd)
	packageCmd.AddCommand(packageListCmd)

	packageChooseCmd.Flags().Bool("all", false, "register every missing package without asking")
	packageListCmd.Flags().Bool("list", false, "print one package per line")
	generateCmd.Flags().String("host", "", "organization hosting the repositories (defaults to hosting.owner)")
	generateCmd.Flags().String("out", "", "output file (defaults to stdout)")
}

// askRecord asks for the vendor, and the type when the index does not
// declare it, of indexKey.
func askRecord(indexKey, declared string) (mirror.Record, error) {
	defaultVendor, slug, ok := strings.Cut(indexKey, "/")
	if !ok {
		return mirror.Record{}, errors.Newf("package key %q is not vendor/slug", indexKey)
	}
	vendor, err := promptInput("Vendor name", defaultVendor, minLength(3))
	if err != nil {
		return mirror.Record{}, err
	}
	kind := declared
	if kind == "" {
		kind, err = promptSelect("Package type",
			huh.NewOption("Plugin", mirror.TypePlugin),
			huh.NewOption("Theme", mirror.TypeTheme))
		if err != nil {
			return mirror.Record{}, err
		}
	}
	return mirror.NewRecord(indexKey, vendor, slug, kind)
}

func runPackageChoose(cmd *cobra.Command, _ []string) {
	config := loadConfig(cmd)
	all, _ := cmd.Flags().GetBool("all")
	out := cmd.OutOrStdout()

	ctx, cancel := signalContext()
	defer cancel()

	plan, err := mirror.BuildPlan(ctx, config)
	if err != nil {
		fail(cmd, "failed to aggregate sources", err)
	}
	store := mirror.NewLedgerStore(config.LedgerPath())
	ledger := plan.Ledger

	for {
		missing := mirror.MissingPackages(plan.Index, ledger)
		if len(missing) == 0 {
			fmt.Fprintln(out, "All packages are already added.")
			return
		}

		if all {
			records := make([]mirror.Record, 0, len(missing))
			for _, key := range missing {
				rec, err := mirror.NewRecordFromIndex(plan.Index, key)
				if err != nil {
					slog.Warn("skipping package", "package", key, "error", err)
					continue
				}
				records = append(records, rec)
			}
			if _, err := mirror.Register(store, records...); err != nil {
				fail(cmd, "failed to register packages", err)
			}
			fmt.Fprintf(out, "Added %d missing packages.\n", len(records))
			return
		}

		options := make([]huh.Option[string], 0, len(missing)+1)
		for _, key := range missing {
			options = append(options, huh.NewOption(key, key))
		}
		options = append(options, huh.NewOption("Exit", exitChoice))
		choice, err := promptSelect("Select a missing package to add", options...)
		if err != nil {
			fail(cmd, "selection failed", err)
		}
		if choice == exitChoice {
			fmt.Fprintln(out, "Exited package selection.")
			return
		}

		rec, err := askRecord(choice, mirror.DeclaredType(plan.Index, choice))
		if err != nil {
			fail(cmd, "failed to read package details", err)
		}
		if ledger, err = mirror.Register(store, rec); err != nil {
			fail(cmd, "failed to register package", err)
		}
		slog.Info("package added", "package", rec.Key(), "aliases", rec.Aliases)
	}
}

func runPackageList(cmd *cobra.Command, args []string) {
	config := loadConfig(cmd)
	lineByLine, _ := cmd.Flags().GetBool("list")

	ledger, err := mirror.NewLedgerStore(config.LedgerPath()).Load()
	if err != nil {
		fail(cmd, "failed to load ledger", err)
	}
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}

	sep := " "
	if lineByLine {
		sep = "\n"
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(mirror.FilterKeys(ledger, prefix), sep))
}

func runCheck(cmd *cobra.Command, args []string) {
	config := loadConfig(cmd)

	ledger, err := mirror.NewLedgerStore(config.LedgerPath()).Load()
	if err != nil {
		fail(cmd, "failed to load ledger", err)
	}
	if mirror.NeedsUpdate(ledger, args[0], args[1]) {
		fmt.Fprintln(cmd.OutOrStdout(), "Update Required")
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), "No Update Required")
	os.Exit(1)
}

func runGenerate(cmd *cobra.Command, _ []string) {
	config := loadConfig(cmd)
	host, _ := cmd.Flags().GetString("host")
	outPath, _ := cmd.Flags().GetString("out")
	if host == "" {
		host = config.Hosting.Owner
	}
	if host == "" {
		fail(cmd, "invalid arguments", errors.New("--host is required when hosting.owner is not set"))
	}

	ledger, err := mirror.NewLedgerStore(config.LedgerPath()).Load()
	if err != nil {
		fail(cmd, "failed to load ledger", err)
	}
	idx := mirror.GenerateRepository(ledger, host, config.Git.Branch)

	if outPath == "" {
		data, err := idx.MarshalJSON()
		if err != nil {
			fail(cmd, "failed to encode index", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return
	}
	if err := mirror.WriteRepository(outPath, idx); err != nil {
		fail(cmd, "failed to write index", err)
	}
	slog.Info("index written", "path", outPath, "packages", idx.Len())
}
