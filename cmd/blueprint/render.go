package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/blueprint-labs/blueprint/internal/domain"
	"github.com/blueprint-labs/blueprint/internal/orchestrator"
	"github.com/blueprint-labs/blueprint/internal/repo/memory"
	"github.com/blueprint-labs/blueprint/internal/storage/fsstore"
)

type renderOptions struct {
	assetsDir    string
	outDir       string
	runID        string
	cacheSize    int
	primaryAlias string
}

func renderCmd(logger func(*cobra.Command) *slog.Logger) *cobra.Command {
	opts := renderOptions{}
	cmd := &cobra.Command{
		Use:   "render <template>",
		Short: "Render every instance of a template from a local asset directory",
		Long: `Render expands each alias of the template against the asset directory and
writes one PNG per combination to <out>/<run-id>/.

Every top-level directory of the asset directory is a pack. Files anywhere
under it can also be referenced by their relative path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), cmd, logger(cmd), args[0], opts)
		},
	}
	defaults := orchestrator.DefaultConfig()
	cmd.Flags().StringVar(&opts.assetsDir, "assets", "", "asset directory")
	cmd.Flags().StringVar(&opts.outDir, "out", "out", "output directory")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run id (default: random)")
	cmd.Flags().IntVar(&opts.cacheSize, "cache-size", defaults.CacheSize, "decoded images kept in memory")
	cmd.Flags().StringVar(&opts.primaryAlias, "primary-alias", defaults.PrimaryAlias, "alias whose asset names each output")
	_ = cmd.MarkFlagRequired("assets")
	return cmd
}

func runRender(ctx context.Context, cmd *cobra.Command, logger *slog.Logger, templatePath string, opts renderOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := readTemplate(cmd, templatePath)
	if err != nil {
		return err
	}
	tmpl, err := domain.DecodeTemplate(data)
	if err != nil {
		return err
	}

	store, err := fsstore.New(opts.assetsDir, opts.outDir)
	if err != nil {
		return err
	}
	runs := memory.NewRunStore()
	orch, err := orchestrator.New(orchestrator.Config{
		CacheSize:    opts.cacheSize,
		PrimaryAlias: opts.primaryAlias,
	}, orchestrator.Deps{
		Catalog:   store,
		Fetcher:   store,
		Describer: store,
		Outputs:   store,
		Runs:      runs,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	if err := runs.CreateRun(ctx, domain.Run{ID: runID, Status: domain.RunPending, Author: "cli"}); err != nil {
		return err
	}

	res, err := orch.Run(ctx, runID, tmpl)
	out := cmd.OutOrStdout()
	if err != nil {
		if res.Instances > 0 {
			fmt.Fprintf(out, "%d instance(s) written before the failure to %s\n", res.Instances, filepath.Join(opts.outDir, runID))
		}
		return fmt.Errorf("run %s failed: %w", runID, err)
	}
	if res.Instances == 0 {
		fmt.Fprintf(out, "warning: template produced no instances; an alias matched no assets\n")
		return nil
	}
	for _, name := range res.Outputs {
		fmt.Fprintln(out, filepath.Join(opts.outDir, runID, name))
	}
	fmt.Fprintf(out, "run %s: %d instance(s) in %s (%d image load(s), %d cache hit(s))\n",
		runID, res.Instances, res.Duration.Round(time.Millisecond), res.Cache.Loads, res.Cache.Hits)
	return nil
}
