package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blueprint-labs/blueprint/internal/binding"
	"github.com/blueprint-labs/blueprint/internal/domain"
	"github.com/blueprint-labs/blueprint/internal/resolve"
	"github.com/blueprint-labs/blueprint/internal/storage/fsstore"
)

func resolveCmd() *cobra.Command {
	var assetsDir string
	cmd := &cobra.Command{
		Use:   "resolve <template>",
		Short: "Show what each alias of a template expands to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readTemplate(cmd, args[0])
			if err != nil {
				return err
			}
			tmpl, err := domain.DecodeTemplate(data)
			if err != nil {
				return err
			}
			store, err := fsstore.New(assetsDir, "")
			if err != nil {
				return err
			}
			resolved, err := resolve.New(store).ResolveAliases(cmd.Context(), tmpl.Aliases)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, alias := range tmpl.AliasNames() {
				locs := resolved[alias]
				fmt.Fprintf(out, "%s (%d)\n", alias, len(locs))
				for _, loc := range locs {
					fmt.Fprintf(out, "  %s\n", loc)
				}
			}
			fmt.Fprintf(out, "instances: %d\n", binding.NewEnumerator(resolved).Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&assetsDir, "assets", "", "asset directory")
	_ = cmd.MarkFlagRequired("assets")
	return cmd
}
