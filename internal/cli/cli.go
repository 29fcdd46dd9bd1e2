package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	commands "github.com/urfave/cli/v3"

	"github.com/st3v3nmw/raftsim/internal/config"
	"github.com/st3v3nmw/raftsim/internal/registry"
	_ "github.com/st3v3nmw/raftsim/scenarios"
)

const configFile = "raftsim.yaml"

// New returns the raftsim command tree.
func New() *commands.Command {
	return &commands.Command{
		Name:  "raftsim",
		Usage: "Deterministic Raft cluster simulator",
		Flags: []commands.Flag{
			&commands.StringFlag{
				Name:  "config",
				Usage: "Path to the configuration file",
				Value: configFile,
			},
		},
		Commands: []*commands.Command{
			{
				Name:      "init",
				Usage:     "Write a default configuration file",
				ArgsUsage: "[path]",
				Action:    Init,
			},
			{
				Name:   "list",
				Usage:  "Show the built-in scenarios",
				Action: List,
			},
			{
				Name:      "run",
				Usage:     "Run scenarios against simulated clusters",
				ArgsUsage: "[collection] [stage]",
				Flags: []commands.Flag{
					&commands.BoolFlag{
						Name:  "all",
						Usage: "Run every selected stage in parallel, one cluster each",
					},
					verboseFlag(),
				},
				Action: Run,
			},
			{
				Name:  "trace",
				Usage: "Print the event trace of a fresh cluster",
				Flags: []commands.Flag{
					&commands.IntFlag{
						Name:  "servers",
						Usage: "Number of servers, defaults to the configuration's",
					},
					&commands.IntFlag{
						Name:  "voting",
						Usage: "Number of voters, defaults to the configuration's",
					},
					&commands.IntFlag{
						Name:  "steps",
						Usage: "Number of events to fire",
						Value: 200,
					},
					&commands.BoolFlag{
						Name:  "until-leader",
						Usage: "Stop as soon as a stable leader is elected",
					},
					&commands.BoolFlag{
						Name:  "json",
						Usage: "Print the final cluster state as JSON",
					},
					verboseFlag(),
				},
				Action: Trace,
			},
		},
	}
}

func verboseFlag() commands.Flag {
	return &commands.BoolFlag{
		Name:    "verbose",
		Usage:   "Log every simulated event to stderr",
		Aliases: []string{"v"},
	}
}

// loadConfig reads the configuration file, falling back to the defaults
// when the default file is absent.
func loadConfig(cmd *commands.Command) (*config.Config, error) {
	path := cmd.String("config")

	var cfg *config.Config
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == configFile {
		cfg = config.Default()
	} else {
		cfg, err = config.LoadFrom(path)
		if err != nil {
			return nil, err
		}
	}

	if cmd.Bool("verbose") {
		cfg.Verbose = true
	}

	return cfg, nil
}

func Init(ctx context.Context, cmd *commands.Command) error {
	args := cmd.Args().Slice()
	if len(args) > 1 {
		return fmt.Errorf("too many arguments\nUsage: raftsim init [path]")
	}

	targetPath := "."
	if len(args) == 1 {
		targetPath = args[0]
	}

	// Create directory if specified
	if targetPath != "." {
		if err := os.MkdirAll(targetPath, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", targetPath, err)
		}
	}

	path := filepath.Join(targetPath, configFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if err := config.SaveTo(config.Default(), path); err != nil {
		return fmt.Errorf("failed to create %s: %w", configFile, err)
	}

	w := cmd.Root().Writer
	fmt.Fprintf(w, "Created %s\n", path)
	fmt.Fprintln(w, "Run 'raftsim list' to see the scenarios, then 'raftsim run <collection>'.")

	return nil
}

func List(ctx context.Context, cmd *commands.Command) error {
	w := cmd.Root().Writer

	fmt.Fprintln(w, "Available scenarios:")
	fmt.Fprintln(w)

	for _, key := range registry.Keys() {
		collection, err := registry.GetCollection(key)
		if err != nil {
			return err
		}

		fmt.Fprintln(w, collection.Describe())
	}

	fmt.Fprintln(w, "Run with: raftsim run <collection> [stage]")

	return nil
}
