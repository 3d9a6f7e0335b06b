// Package cmd wires the treecrown command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ofo-tools/treecrown/cmd/batch"
	"github.com/ofo-tools/treecrown/cmd/cliutil"
	"github.com/ofo-tools/treecrown/cmd/config"
	"github.com/ofo-tools/treecrown/internal/analysis"
	"github.com/ofo-tools/treecrown/internal/buildinfo"
	"github.com/ofo-tools/treecrown/internal/conf"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/logger"
	"github.com/ofo-tools/treecrown/internal/telemetry"
)

// globalFlags are resolved before settings are loaded.
type globalFlags struct {
	configFile string
	debug      bool
	modelPath  string
}

// RootCommand creates the treecrown command tree. settings is filled in
// before any subcommand runs.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "treecrown <input raster> <patch size> <output vector>",
		Short: "Detect tree crowns in orthomosaics",
		Long: `Run a tree crown detector over a georeferenced RGB raster in square
tiles and write the detected crowns as a polygon layer in the raster's CRS.`,
		Version:       build.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cliutil.PositionalArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			patchSize, err := cliutil.ParsePatchSize(args[1])
			if err != nil {
				return err
			}
			_, err = analysis.FileAnalysis(cmd.Context(), settings, analysis.Request{
				InputPath:  args[0],
				PatchSize:  patchSize,
				OutputPath: args[2],
			})
			return err
		},
	}

	if err := setupFlags(rootCmd, flags); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		batch.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings, flags, build)
	}

	return rootCmd
}

// initialize loads settings, then sets up logging and telemetry from them.
func initialize(settings *conf.Settings, flags *globalFlags, build *buildinfo.Context) error {
	loaded, err := conf.Load(flags.configFile)
	if err != nil {
		return err
	}
	*settings = *loaded

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("setting", "logging").
			Build()
	}
	logger.SetGlobal(cl)

	return telemetry.InitSentry(&settings.Sentry, build)
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, flags *globalFlags) error {
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to a treecrown.yaml config file")
	rootCmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&flags.modelPath, "model", "", "Path to the detector model file")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("detector.model_path", rootCmd.PersistentFlags().Lookup("model")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
