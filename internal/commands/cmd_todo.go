package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"

	"github.com/seantiz/stepwise/internal/codec"
	"github.com/seantiz/stepwise/internal/engine"
)

const todoWrapWidth = 80

// TodoCmd implements the stepwise todo command.
type TodoCmd struct {
	flags *Flags

	raw bool
}

// NewTodoCmd creates a new todo command.
func NewTodoCmd(flags *Flags) *TodoCmd {
	return &TodoCmd{flags: flags}
}

// Register adds the todo command to the application.
func (cmd *TodoCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "todo",
		Usage:     "Render a plan document as a todo checklist",
		UsageText: "stepwise todo [--raw] <plan.json>",
		Description: `Decodes a plan document and prints its steps as a Markdown checklist,
styled for the terminal. Use --raw for the plain Markdown.

Examples:
  stepwise todo plans/deploy.json
  stepwise todo --raw plans/deploy.json > TODO.md`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "raw",
				Usage:       "print Markdown without terminal styling",
				Destination: &cmd.raw,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *TodoCmd) run(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return errors.New("todo: expected exactly one plan document")
	}
	path := c.Args().First()

	readCtx, cancel := context.WithTimeout(ctx, engine.DefaultFileTimeout)
	defer cancel()
	data, err := codec.ReadFile(readCtx, path)
	if err != nil {
		return fmt.Errorf("todo: %w", err)
	}
	plan, err := codec.Decode(data)
	if err != nil {
		return fmt.Errorf("todo: %s: %w", path, err)
	}

	md := codec.RenderTodo(plan)
	if cmd.raw {
		_, err := io.WriteString(c.Root().Writer, md)
		return err
	}

	out, err := renderMarkdown(md)
	if err != nil {
		return fmt.Errorf("todo: render: %w", err)
	}
	_, err = io.WriteString(c.Root().Writer, out)
	return err
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(todoWrapWidth),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
