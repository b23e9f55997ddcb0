package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/obr/internal/config"
	"github.com/zjrosen/obr/internal/infrastructure/sqlite"
	"github.com/zjrosen/obr/internal/loader"
	"github.com/zjrosen/obr/internal/presentation"
	"github.com/zjrosen/obr/internal/repoxml"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Manage and inspect configured repositories",
}

var reposListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured repositories as JSON",
	Long: `List the configured repositories as JSON. With the document store enabled
each entry also carries the increment and fetch time of its stored copy.

Examples:
  obr repos list
  obr repos list | jq '.[].url'`,
	Args: cobra.NoArgs,
	RunE: runReposList,
}

var reposFetchCmd = &cobra.Command{
	Use:   "fetch [name...]",
	Short: "Load repositories and print snapshot summaries",
	Long: `Fetch and parse repositories, following referrals, and print a JSON
summary of each snapshot: increment, fingerprint and resource counts.
Without names every configured repository is fetched.`,
	RunE: runReposFetch,
}

var reposValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a repository document",
	Long: `Decode a repository document and report the first problem as
file:line:column: message. Strictness follows document.strict unless
--strict or --lenient is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runReposValidate,
}

var reposAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add a repository to the config file",
	Long: `Add a repository to the config file. Comments and other sections of the
file are preserved.

Examples:
  obr repos add central https://repo.example.com/index.xml --expiration 10m --tolerant
  obr repos add local ./build/repository.xml --watch`,
	Args: cobra.ExactArgs(2),
	RunE: runReposAdd,
}

var reposRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a repository from the config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runReposRemove,
}

var (
	validateStrict  bool
	validateLenient bool

	addExpiration      time.Duration
	addRefreshInterval time.Duration
	addTolerant        bool
	addWatch           bool
	addReferralDepth   int
)

func init() {
	reposValidateCmd.Flags().BoolVar(&validateStrict, "strict", false, "reject unknown elements")
	reposValidateCmd.Flags().BoolVar(&validateLenient, "lenient", false, "skip unknown elements")
	reposValidateCmd.MarkFlagsMutuallyExclusive("strict", "lenient")

	reposAddCmd.Flags().DurationVar(&addExpiration, "expiration", 0, "serve the last load for this long without I/O")
	reposAddCmd.Flags().DurationVar(&addRefreshInterval, "refresh-interval", 0, "poll interval for obr serve")
	reposAddCmd.Flags().BoolVar(&addTolerant, "tolerant", false, "treat load failures as an empty repository")
	reposAddCmd.Flags().BoolVar(&addWatch, "watch", false, "reload a file repository when it changes (obr serve)")
	reposAddCmd.Flags().IntVar(&addReferralDepth, "referral-depth", 0, "referral levels to follow")

	reposCmd.AddCommand(reposListCmd, reposFetchCmd, reposValidateCmd, reposAddCmd, reposRemoveCmd)
	rootCmd.AddCommand(reposCmd)
}

func runReposList(cmd *cobra.Command, _ []string) error {
	stored := map[string]sqlite.DocumentInfo{}
	if cfg.Store.Enabled {
		db, err := sqlite.NewDB(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening document store: %w", err)
		}
		defer func() { _ = db.Close() }()
		infos, err := db.Documents().List(cmd.Context())
		if err != nil {
			return err
		}
		for _, info := range infos {
			stored[info.URL] = info
		}
	}

	dtos := make([]presentation.RepositoryDTO, 0, len(cfg.Repositories))
	for _, rc := range cfg.Repositories {
		dto := presentation.FromRepositoryConfig(rc)
		if key, err := loader.NormalizeLocation(rc.URL); err == nil {
			if info, ok := stored[key]; ok {
				dto.Stored = presentation.FromDocumentInfo(info)
			}
		}
		dtos = append(dtos, dto)
	}
	return presentation.NewFormatter(cmd.OutOrStdout()).FormatRepositories(dtos)
}

func runReposFetch(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	snaps, err := rt.loadAll(cmd.Context(), args)
	if err != nil {
		return err
	}
	dtos := make([]*presentation.SnapshotDTO, len(snaps))
	for i, s := range snaps {
		dtos[i] = presentation.FromSnapshot(s)
	}
	return presentation.NewFormatter(cmd.OutOrStdout()).FormatSnapshots(dtos)
}

func runReposValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	strict := cfg.Document.Strict
	switch {
	case validateStrict:
		strict = true
	case validateLenient:
		strict = false
	}

	f, err := os.Open(path) //nolint:gosec // G304: user supplied document path
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	doc, err := repoxml.NewFactory(repoxml.WithStrict(strict)).Decode(f)
	if err != nil {
		presentation.NewFormatter(cmd.ErrOrStderr()).FormatDocumentError(path, err)
		return errors.New("document is invalid")
	}

	caps := 0
	for _, r := range doc.Resources {
		caps += len(r.Capabilities())
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (name %q, increment %d, %d resources, %d capabilities, %d referrals)\n",
		path, doc.Name, doc.Increment, len(doc.Resources), caps, len(doc.Referrals))
	return nil
}

func runReposAdd(cmd *cobra.Command, args []string) error {
	repo := config.RepositoryConfig{
		Name:            args[0],
		URL:             args[1],
		Expiration:      addExpiration,
		RefreshInterval: addRefreshInterval,
		Tolerant:        addTolerant,
		Watch:           addWatch,
		ReferralDepth:   addReferralDepth,
	}
	if _, err := loader.NormalizeLocation(repo.URL); err != nil {
		return err
	}
	path := configPath()
	if err := config.AddRepository(path, repo, cfg.Repositories); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "added repository %s to %s\n", repo.Name, path)
	return nil
}

func runReposRemove(cmd *cobra.Command, args []string) error {
	path := configPath()
	if err := config.RemoveRepository(path, args[0], cfg.Repositories); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed repository %s from %s\n", args[0], path)
	return nil
}
