package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

const defaultConfigFile = "config.yaml"

// Runner is everything the command line can dispatch to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunReplay(script string) error
	RunRender(script string) error
	RunExport(script string) error
	RunService() error
}

// AppOptions collects the command-line flags
type AppOptions struct {
	ConfigFile string
	StorePath  string
	MQTTMode   bool

	OutputFile string
	Format     string
	Scale      float64
	Rotation   int
	Selected   []string

	HTTPPort int
}

func newRootCmd(app Runner, out io.Writer) *cobra.Command {
	opts := &AppOptions{}

	rootCmd := &cobra.Command{
		Use:   "takeoff",
		Short: "Interactive construction takeoff engine",
		Long: `takeoff replays recorded measurement and markup sessions against a
calibrated drawing sheet, renders the resulting overlay, exports it as GeoJSON
and serves it over HTTP.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", defaultConfigFile, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.StorePath, "db", "", "SQLite database path (overrides store settings in the config)")
	rootCmd.PersistentFlags().BoolVar(&opts.MQTTMode, "mqtt", false, "Publish changes to the configured MQTT broker")

	rootCmd.AddCommand(
		newReplayCmd(app, opts),
		newRenderCmd(app, opts),
		newExportCmd(app, opts),
		newServeCmd(app, opts),
	)
	return rootCmd
}

// run executes the command line against app, writing output to out
func run(args []string, out io.Writer, app Runner) error {
	cmd := newRootCmd(app, out)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
