package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/stepwise/internal/codec"
	"github.com/seantiz/stepwise/internal/engine"
)

// ValidateCmd implements the stepwise validate command.
type ValidateCmd struct {
	flags *Flags
}

// NewValidateCmd creates a new validate command.
func NewValidateCmd(flags *Flags) *ValidateCmd {
	return &ValidateCmd{flags: flags}
}

// Register adds the validate command to the application.
func (cmd *ValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "validate",
		Usage:     "Check plan documents",
		UsageText: "stepwise validate <glob>...",
		Description: `Decodes every plan document matching the given patterns and reports
whether each one is valid. Patterns support ** for recursive matching.
Exits non-zero when any document is invalid.

Examples:
  stepwise validate plans/*.json
  stepwise validate 'plans/**/*.json'`,
		Action: cmd.run,
	})
	return app
}

// fileResult is the outcome of validating one document.
type fileResult struct {
	path  string
	steps int
	err   error
}

func (cmd *ValidateCmd) run(ctx context.Context, c *cli.Command) error {
	if c.NArg() == 0 {
		return errors.New("validate: expected at least one pattern")
	}
	paths, err := expandGlobs(c.Args().Slice())
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	results := make([]fileResult, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			results[i] = validateFile(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	w := c.Root().Writer
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", r.path, r.err)
			continue
		}
		fmt.Fprintf(w, "ok   %s (%d steps)\n", r.path, r.steps)
	}

	if failed > 0 {
		return fmt.Errorf("validate: %d of %d plan documents invalid", failed, len(results))
	}
	return nil
}

func validateFile(ctx context.Context, path string) fileResult {
	ctx, cancel := context.WithTimeout(ctx, engine.DefaultFileTimeout)
	defer cancel()

	data, err := codec.ReadFile(ctx, path)
	if err != nil {
		return fileResult{path: path, err: err}
	}
	plan, err := codec.Decode(data)
	if err != nil {
		return fileResult{path: path, err: err}
	}
	return fileResult{path: path, steps: len(plan.Steps)}
}
