package attest

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	green     = color.New(color.FgGreen).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
	yellow    = color.New(color.FgYellow).SprintFunc()
	bold      = color.New(color.Bold).SprintFunc()
	checkMark = green("✓")
	crossMark = red("✗")
)

// Suite represents a scenario with a setup function and ordered tests that
// share one simulated cluster.
type Suite struct {
	setupFn func(*Do)
	tests   []TestFunc
	config  *Config
	out     io.Writer
}

// TestFunc is a named step of a suite.
type TestFunc struct {
	Name string
	Fn   func(*Do)
}

// New returns an empty suite reporting to stdout.
func New() *Suite {
	return &Suite{out: os.Stdout}
}

// WithConfig replaces the suite's configuration. Zero fields keep their
// defaults.
func (s *Suite) WithConfig(config *Config) *Suite {
	merged := DefaultConfig()
	merged.Cluster = config.Cluster.WithDefaults()

	if config.DefaultRetryTimeout != 0 {
		merged.DefaultRetryTimeout = config.DefaultRetryTimeout
	}

	if config.Logger != nil {
		merged.Logger = config.Logger
	}

	s.config = merged
	return s
}

// Output redirects the suite's report, stdout by default.
func (s *Suite) Output(w io.Writer) *Suite {
	s.out = w
	return s
}

// Setup sets the function that starts the cluster before the first test.
func (s *Suite) Setup(fn func(*Do)) *Suite {
	s.setupFn = fn
	return s
}

func (s *Suite) Test(name string, fn func(*Do)) *Suite {
	s.tests = append(s.tests, TestFunc{Name: name, Fn: fn})
	return s
}

// Tests returns the names of the suite's tests in order.
func (s *Suite) Tests() []string {
	names := make([]string, len(s.tests))
	for i, test := range s.tests {
		names[i] = test.Name
	}
	return names
}

// Run starts a fresh cluster, runs the setup and then each test in order on
// it. It stops at the first failure or when ctx is cancelled, and reports
// whether every test passed.
func (s *Suite) Run(ctx context.Context) bool {
	config := cmp.Or(s.config, DefaultConfig())

	do := newDo(ctx, config)
	defer do.Done()

	passed := s.setupFn == nil || s.run(do, "SETUP", s.setupFn, false)
	for i := 0; passed && i < len(s.tests); i++ {
		if ctx.Err() != nil {
			fmt.Fprintf(s.out, "\n%s %s\n", bold("CANCELLED"), yellow("!"))
			return false
		}

		passed = s.run(do, s.tests[i].Name, s.tests[i].Fn, true)
	}

	verdict, mark := "PASSED", checkMark
	if !passed {
		verdict, mark = "FAILED", crossMark
	}
	fmt.Fprintf(s.out, "\n%s %s\n", bold(verdict), mark)

	return passed
}

// run calls fn, turning a panic into a reported failure.
func (s *Suite) run(do *Do, name string, fn func(*Do), report bool) (passed bool) {
	defer func() {
		if r := recover(); r != nil {
			passed = false

			fmt.Fprintf(s.out, "%s %s\n\n%s\n", crossMark, name, r)
			if do.cluster != nil {
				fmt.Fprintf(s.out, "\n  at %dms, last event: %s\n", do.cluster.Time(), do.cluster.Event())
			}
		}
	}()

	fn(do)

	if report {
		fmt.Fprintf(s.out, "%s %s\n", checkMark, name)
	}
	return true
}
