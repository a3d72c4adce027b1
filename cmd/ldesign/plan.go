package main

import (
	"encoding/json"

	"github.com/ldesign/toolkit/builder"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	var libraryType string
	cmd := &cobra.Command{
		Use:   "plan <config>",
		Short: "Resolve a build config into a bundler plan",
		Long:  "Load a YAML, TOML or JSON build config, resolve the strategy for its\nlibrary type against the project's node_modules and print the plan as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := builder.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if libraryType != "" {
				t, err := builder.ParseLibraryType(libraryType)
				if err != nil {
					return err
				}
				cfg.LibraryType = t
			}
			plan, err := builder.NewRegistry().Plan(cmd.Context(), cfg, builder.NodeModules(cfg.Root, nil))
			if err != nil {
				return err
			}
			log.Debug().Str("strategy", plan.Strategy).Strs("plugins", plan.PluginNames()).Msg("plan resolved")
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		},
	}
	cmd.Flags().StringVarP(&libraryType, "type", "t", "", "override the config's library type")
	return cmd
}
