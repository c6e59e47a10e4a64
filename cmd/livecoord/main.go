package main

import (
	"os"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
)

const envPrefix = "LIVECOORD"

var rootCmd = &cobra.Command{
	Use:   "livecoord",
	Short: "Coordinate live multimodal sessions between clients and a streaming model backend",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
	SilenceUsage: true,
}

func getMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(envPrefix,
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

func buildCommands() ([]*cobra.Command, error) {
	serveCmd, err := NewServeCommand()
	if err != nil {
		return nil, err
	}
	profilesCmd, err := NewProfilesCommand()
	if err != nil {
		return nil, err
	}

	serveCobra, err := cli.BuildCobraCommand(serveCmd, cli.WithCobraMiddlewaresFunc(getMiddlewares))
	if err != nil {
		return nil, err
	}
	profilesCobra, err := cli.BuildCobraCommand(profilesCmd, cli.WithCobraMiddlewaresFunc(getMiddlewares))
	if err != nil {
		return nil, err
	}
	return []*cobra.Command{serveCobra, profilesCobra}, nil
}

// loadDotEnv fills unset variables from ./.env so the LIVECOORD_ and GOOGLE_ variables can live there.
func loadDotEnv() error {
	if err := gotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return errors.Wrap(err, "load .env")
	}
	return nil
}

func main() {
	cobra.CheckErr(loadDotEnv())

	if err := clay.InitGlazed("livecoord", rootCmd); err != nil {
		cobra.CheckErr(err)
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	commands, err := buildCommands()
	cobra.CheckErr(err)
	rootCmd.AddCommand(commands...)

	cobra.CheckErr(rootCmd.Execute())
}
