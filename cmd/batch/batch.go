package batch

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ofo-tools/treecrown/cmd/cliutil"
	"github.com/ofo-tools/treecrown/internal/analysis"
	"github.com/ofo-tools/treecrown/internal/conf"
)

// Command creates the batch command for processing a directory of rasters.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <input dir> <patch size> <output dir>",
		Short: "Detect tree crowns in every raster of a directory",
		Long: `Process every raster in a directory matching batch.input_globs and write
one vector file per raster into the output directory.`,
		Args: cliutil.PositionalArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			patchSize, err := cliutil.ParsePatchSize(args[1])
			if err != nil {
				return err
			}
			_, err = analysis.DirectoryAnalysis(cmd.Context(), settings, analysis.BatchRequest{
				InputDir:  args[0],
				PatchSize: patchSize,
				OutputDir: args[2],
				Extension: settings.Batch.Extension,
				Workers:   settings.Batch.Workers,
			})
			return err
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the batch command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("ext", "", "Output extension: .gpkg, .geojson or .csv")
	cmd.Flags().Int("workers", 0, "Concurrent rasters, 0 uses all logical cores")

	if err := viper.BindPFlag("batch.extension", cmd.Flags().Lookup("ext")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("batch.workers", cmd.Flags().Lookup("workers")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
