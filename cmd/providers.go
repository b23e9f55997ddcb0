package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/zjrosen/obr/internal/presentation"
	"github.com/zjrosen/obr/internal/repository"
	"github.com/zjrosen/obr/internal/resource"
)

var (
	provRequirements []string
	provRepos        []string
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Find the capabilities matching requirements",
	Long: `Load the configured repositories and print, as JSON, the capabilities
that satisfy each requirement. Requirements are written namespace:filter;
the filter may be omitted to match the whole namespace, or given as
comma-separated key=value pairs that must all match.

Examples:
  # Which bundles export com.acme.api in the 1.x range?
  obr providers -r 'osgi.wiring.package:(&(osgi.wiring.package=com.acme.api)(version>=1.0.0)(!(version>=2.0.0)))'

  # Several requirements against selected repositories
  obr providers -r 'osgi.service:(objectClass=com.acme.Greeter)' \
    -r osgi.extender --repo central --repo local

  # Shorthand for (&(osgi.identity=com.acme.*)(type=osgi.bundle))
  obr providers -r 'osgi.identity:osgi.identity=com.acme.*,type=osgi.bundle'

  # Only the resource names
  obr providers -r osgi.identity | jq '.[].providers[].resource'`,
	RunE: runProviders,
}

func init() {
	providersCmd.Flags().StringArrayVarP(&provRequirements, "requirement", "r", nil, "requirement as namespace:filter (repeatable)")
	providersCmd.Flags().StringArrayVar(&provRepos, "repo", nil, "repository name to query (repeatable, default all)")
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, _ []string) error {
	if len(provRequirements) == 0 {
		return errors.New("at least one --requirement is required")
	}
	reqs := make([]*resource.Requirement, len(provRequirements))
	for i, raw := range provRequirements {
		dto, err := presentation.ParseRequirement(raw)
		if err != nil {
			return err
		}
		if reqs[i], err = dto.ToRequirement(); err != nil {
			return err
		}
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	ctx := cmd.Context()
	snaps, err := rt.loadAll(ctx, provRepos)
	if err != nil {
		return err
	}
	sources := make([]repository.Repository, len(snaps))
	for i, s := range snaps {
		sources[i] = s.Repository
	}
	agg := repository.NewAggregate(sources, cfg.AggregateOptions()...)

	providers, err := agg.FindProviders(ctx, reqs)
	if err != nil {
		return err
	}
	return presentation.NewFormatter(cmd.OutOrStdout()).FormatProviders(presentation.FromProviders(reqs, providers))
}
