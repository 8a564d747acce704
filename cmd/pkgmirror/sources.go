package main

import (
	"fmt"
	"log/slog"

	"github.com/charmbracelet/huh"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/pkgmirror/internal/mirror"
	"github.com/mirrorctl/pkgmirror/internal/vault"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage upstream package index sources",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a package index source",
	Long: `Adds a source to the source list. Without --name the source is asked for
interactively. Basic auth credentials are encrypted before they are written.

Examples:
  pkgmirror source add
  pkgmirror source add --name acme --vendor acme --url https://packages.acme.test/packages.json
  pkgmirror source add --name acme --vendor acme --url https://packages.acme.test/packages.json \
    --username user --password secret`,
	Args: cobra.NoArgs,
	Run:  runSourceAdd,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources",
	Args:  cobra.NoArgs,
	Run:   runSourceList,
}

var sourceEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt every plain-text credential in the source list",
	Args:  cobra.NoArgs,
	Run:   func(cmd *cobra.Command, _ []string) { runSourceCrypt(cmd, true) },
}

var sourceDecryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Write the source list back with plain-text credentials",
	Args:  cobra.NoArgs,
	Run:   func(cmd *cobra.Command, _ []string) { runSourceCrypt(cmd, false) },
}

func init() {
	rootCmd.AddCommand(sourceCmd)
	sourceCmd.AddCommand(sourceAddCmd)
	sourceCmd.AddCommand(sourceListCmd)
	sourceCmd.AddCommand(sourceEncryptCmd)
	sourceCmd.AddCommand(sourceDecryptCmd)

	sourceAddCmd.Flags().String("name", "", "source name")
	sourceAddCmd.Flags().String("vendor", "", "vendor whose packages the source publishes")
	sourceAddCmd.Flags().String("url", "", "index URL")
	sourceAddCmd.Flags().String("username", "", "basic auth username")
	sourceAddCmd.Flags().String("password", "", "basic auth password")
	sourceDecryptCmd.Flags().Bool("yes", false, "do not ask for confirmation")
}

// openVault uses the configured passphrase or asks for one.
func openVault(config *mirror.Config) (*vault.Vault, error) {
	passphrase := config.VaultPass
	if passphrase == "" {
		var err error
		passphrase, err = promptSecret("Vault passphrase")
		if err != nil {
			return nil, err
		}
	}
	return vault.New(passphrase)
}

// askSource asks for the details of a new source.
func askSource() (mirror.SourceDescriptor, error) {
	var src mirror.SourceDescriptor
	var err error

	if src.Name, err = promptInput("Source name or identifier", "", notEmpty); err != nil {
		return src, err
	}
	if src.Vendor, err = promptInput("Vendor name", "", notEmpty); err != nil {
		return src, err
	}
	if src.URL, err = promptInput("Source URL", "", notEmpty); err != nil {
		return src, err
	}
	src.AuthType, err = promptSelect("Authentication type",
		huh.NewOption("Basic", mirror.AuthBasic),
		huh.NewOption("None", mirror.AuthNone))
	if err != nil {
		return src, err
	}
	if src.AuthType == mirror.AuthBasic {
		auth := &mirror.BasicAuth{}
		if auth.Username, err = promptInput("Username", "", notEmpty); err != nil {
			return src, err
		}
		if auth.Password, err = promptSecret("Password"); err != nil {
			return src, err
		}
		src.Auth = auth
	}
	return src, nil
}

func sourceFromFlags(cmd *cobra.Command) mirror.SourceDescriptor {
	name, _ := cmd.Flags().GetString("name")
	vendor, _ := cmd.Flags().GetString("vendor")
	url, _ := cmd.Flags().GetString("url")
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")

	src := mirror.SourceDescriptor{Name: name, Vendor: vendor, URL: url, AuthType: mirror.AuthNone}
	if username != "" || password != "" {
		src.AuthType = mirror.AuthBasic
		src.Auth = &mirror.BasicAuth{Username: username, Password: password}
	}
	return src
}

func runSourceAdd(cmd *cobra.Command, _ []string) {
	config := loadConfig(cmd)

	var src mirror.SourceDescriptor
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		src = sourceFromFlags(cmd)
	} else {
		var err error
		if src, err = askSource(); err != nil {
			fail(cmd, "failed to read source", err)
		}
	}

	list, err := mirror.LoadSources(config.SourcesPath())
	if err != nil {
		fail(cmd, "failed to load sources", err)
	}
	if err := list.Add(src); err != nil {
		fail(cmd, "invalid source", err)
	}
	if list.NeedsVault() {
		v, err := openVault(config)
		if err != nil {
			fail(cmd, "failed to open vault", err)
		}
		if list, err = list.Encrypt(v); err != nil {
			fail(cmd, "failed to encrypt credentials", err)
		}
	}
	if err := mirror.SaveSources(config.SourcesPath(), list); err != nil {
		fail(cmd, "failed to write sources", err)
	}
	slog.Info("source added", "source", src.Name, "path", config.SourcesPath())
}

func runSourceList(cmd *cobra.Command, _ []string) {
	config := loadConfig(cmd)

	list, err := mirror.LoadSources(config.SourcesPath())
	if err != nil {
		fail(cmd, "failed to load sources", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"NAME", "VENDOR", "URL", "AUTH"})
	for _, src := range list.ComposerRepos {
		auth := src.AuthType
		if src.UsesBasicAuth() && vault.IsEncrypted(src.Auth.Password) {
			auth += " (encrypted)"
		}
		t.AppendRow(table.Row{src.Name, src.Vendor, src.URL, auth})
	}
	t.Render()
}

func runSourceCrypt(cmd *cobra.Command, encrypt bool) {
	config := loadConfig(cmd)

	if !encrypt {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			ok, err := promptConfirm("Decrypt the source list?",
				"Usernames and passwords will be written in plain text to "+config.SourcesPath()+".")
			if err != nil {
				fail(cmd, "confirmation failed", err)
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing changed.")
				return
			}
		}
	}

	list, err := mirror.LoadSources(config.SourcesPath())
	if err != nil {
		fail(cmd, "failed to load sources", err)
	}
	v, err := openVault(config)
	if err != nil {
		fail(cmd, "failed to open vault", err)
	}
	if encrypt {
		list, err = list.Encrypt(v)
	} else {
		list, err = list.Decrypt(v)
	}
	if err != nil {
		fail(cmd, "failed to transform credentials", err)
	}
	if err := mirror.SaveSources(config.SourcesPath(), list); err != nil {
		fail(cmd, "failed to write sources", err)
	}
	slog.Info("source list written", "path", config.SourcesPath(), "encrypted", encrypt)
}
