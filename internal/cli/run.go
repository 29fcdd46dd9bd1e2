package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"runtime"
	"slices"

	"github.com/fatih/color"
	commands "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/st3v3nmw/raftsim/internal/attest"
	"github.com/st3v3nmw/raftsim/internal/registry"
	"github.com/st3v3nmw/raftsim/pkg/threadsafe"
)

var bold = color.New(color.Bold).SprintFunc()

// job is one stage selected for a run.
type job struct {
	collection string
	key        string
	stage      *registry.Stage
}

func (j job) String() string {
	return j.collection + "/" + j.key
}

type result struct {
	passed bool
	output string
}

func Run(ctx context.Context, cmd *commands.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	jobs, err := selectJobs(cmd.Args().Slice(), cmd.Bool("all"))
	if err != nil {
		return err
	}

	w := cmd.Root().Writer
	attestConfig := cfg.Attest()

	var failed int
	if cmd.Bool("all") {
		failed, err = runParallel(ctx, w, jobs, attestConfig)
		if err != nil {
			return err
		}
	} else {
		failed = runSequential(ctx, w, jobs, attestConfig)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d stages failed", failed, len(jobs))
	}

	return nil
}

// selectJobs resolves the command line arguments into stages to run.
func selectJobs(args []string, all bool) ([]job, error) {
	var keys []string
	switch len(args) {
	case 0:
		if !all {
			return nil, fmt.Errorf("collection is required\nUsage: raftsim run [--all] <collection> [stage]")
		}
		keys = registry.Keys()
	case 1, 2:
		keys = []string{args[0]}
	default:
		return nil, fmt.Errorf("too many arguments\nUsage: raftsim run [--all] <collection> [stage]")
	}

	var jobs []job
	for _, key := range keys {
		collection, err := registry.GetCollection(key)
		if err != nil {
			return nil, fmt.Errorf("%w\nRun 'raftsim list' to see the available collections", err)
		}

		stageKeys := collection.StageOrder
		if len(args) == 2 {
			stageKeys = []string{args[1]}
		}

		for _, stageKey := range stageKeys {
			stage, err := collection.GetStage(stageKey)
			if err != nil {
				msg := "\nAvailable stages:\n"
				for _, stage := range collection.StageOrder {
					msg += fmt.Sprintf("- %s\n", stage)
				}
				return nil, fmt.Errorf("%w\n%s", err, msg)
			}

			jobs = append(jobs, job{collection: key, key: stageKey, stage: stage})
		}
	}

	return jobs, nil
}

// runSequential runs the jobs in order, stopping at the first failure.
func runSequential(ctx context.Context, w io.Writer, jobs []job, config *attest.Config) int {
	for _, j := range jobs {
		fmt.Fprintf(w, "Running %s: %s\n\n", bold(j), j.stage.Name)

		passed := j.stage.Fn().WithConfig(config).Output(w).Run(ctx)
		fmt.Fprintln(w)

		if !passed {
			return 1
		}
	}

	return 0
}

// runParallel runs every job on its own cluster at once, then prints the
// reports in order followed by a tally of failures per collection.
func runParallel(ctx context.Context, w io.Writer, jobs []job, config *attest.Config) (int, error) {
	results := threadsafe.NewMap[string, result]()
	failures := threadsafe.NewMap[string, int]()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, j := range jobs {
		g.Go(func() error {
			var out bytes.Buffer
			passed := j.stage.Fn().WithConfig(config).Output(&out).Run(gctx)
			results.Set(j.String(), result{passed: passed, output: out.String()})

			failures.Update(j.collection, func(n int, _ bool) int {
				if !passed {
					n++
				}
				return n
			})

			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("run interrupted: %w", err)
	}

	if results.Len() != len(jobs) {
		return 0, fmt.Errorf("collected %d results for %d stages", results.Len(), len(jobs))
	}

	for _, j := range jobs {
		r, _ := results.Get(j.String())
		fmt.Fprintf(w, "Running %s: %s\n\n%s\n", bold(j), j.stage.Name, r.output)
	}

	var failed int
	tally := failures.Snapshot()
	for _, key := range slices.Sorted(maps.Keys(tally)) {
		fmt.Fprintf(w, "%s: %d failed\n", key, tally[key])
		failed += tally[key]
	}

	return failed, nil
}
