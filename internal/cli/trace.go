package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	commands "github.com/urfave/cli/v3"

	"github.com/st3v3nmw/raftsim/pkg/fixture"
)

var (
	faint  = color.New(color.Faint).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func Trace(ctx context.Context, cmd *commands.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	servers := cfg.Cluster.Servers
	if cmd.IsSet("servers") {
		servers = cmd.Int("servers")
	}

	voting := min(cfg.Cluster.Voting, servers)
	if cmd.IsSet("voting") {
		voting = cmd.Int("voting")
	}

	if voting < 1 || voting > servers {
		return fmt.Errorf("--voting must be between 1 and %d, got %d", servers, voting)
	}

	clusterConfig := cfg.Cluster.Config
	clusterConfig.Logger = cfg.Logger()

	c, err := fixture.New(servers, nil, &clusterConfig)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Bootstrap(c.Configuration(voting)); err != nil {
		return fmt.Errorf("failed to bootstrap: %w", err)
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	w := cmd.Root().Writer
	if err := trace(ctx, w, c, cmd.Int("steps"), cmd.Bool("until-leader")); err != nil {
		return err
	}

	if cmd.Bool("json") {
		state, err := c.JSON()
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}

		fmt.Fprintln(w, string(state))
	}

	return nil
}

// trace fires up to steps events, printing each one and every change of
// stable leader. A safety violation or an idle cluster ends the trace with
// an error.
func trace(ctx context.Context, w io.Writer, c *fixture.Cluster, steps int, untilLeader bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				panic(r)
			}

			fmt.Fprintf(w, "%s %s\n", red("✗"), e)
			err = e
		}
	}()

	leader := c.LeaderIndex()
	for range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		e := c.Step()
		fmt.Fprintln(w, paint(e))

		if current := c.LeaderIndex(); current != leader {
			leader = current
			if leader == c.N() {
				fmt.Fprintf(w, "%s\n", yellow("        no stable leader"))
			} else {
				fmt.Fprintf(w, "%s\n", green(fmt.Sprintf("        server %d leads term %d", leader, c.Get(leader).Term())))
			}
		}

		if untilLeader && fixture.HasLeader(c) {
			break
		}
	}

	return nil
}

func paint(e fixture.Event) string {
	switch e.Type {
	case fixture.EventTick:
		return faint(e.String())
	case fixture.EventNetwork:
		return cyan(e.String())
	case fixture.EventDisk:
		return yellow(e.String())
	default:
		return e.String()
	}
}
