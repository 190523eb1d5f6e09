package codec

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/seantiz/stepwise/internal/model"
)

// Todo is a checklist parsed from Markdown.
type Todo struct {
	Title string
	Items []TodoItem
}

// TodoItem is one task-list entry.
type TodoItem struct {
	Description string
	Done        bool
}

var todoMarkdown = goldmark.New(goldmark.WithExtensions(extension.TaskList))

// RenderTodo renders the plan as a Markdown checklist headed by its title.
// Completed steps are checked; every other status is unchecked. Plan
// metadata follows the checklist as a plain bullet list, sorted by key,
// which ParseTodo skips.
func RenderTodo(p *model.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", singleLine(p.Title))
	for _, s := range p.Steps {
		mark := " "
		if s.Status == model.StatusCompleted {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, singleLine(s.Description))
	}

	if len(p.Metadata) > 0 {
		b.WriteString("\n## Metadata\n\n")
		for _, k := range slices.Sorted(maps.Keys(p.Metadata)) {
			fmt.Fprintf(&b, "- **%s**: %s\n", singleLine(k), metadataValue(p.Metadata[k]))
		}
	}
	return b.String()
}

// metadataValue prints strings as they are and everything else as JSON.
func metadataValue(v any) string {
	if s, ok := v.(string); ok {
		return singleLine(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// ParseTodo extracts the first level-one heading and every task-list item
// from a Markdown document. It returns an error wrapping
// model.ErrInvalidFormat when either is missing.
func ParseTodo(src []byte) (*Todo, error) {
	doc := todoMarkdown.Parser().Parse(text.NewReader(src))

	todo := &Todo{}
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if node.Level == 1 && todo.Title == "" {
				todo.Title = strings.TrimSpace(string(node.Text(src)))
			}
			return ast.WalkSkipChildren, nil
		case *extast.TaskCheckBox:
			todo.Items = append(todo.Items, TodoItem{
				Description: checkBoxLabel(node, src),
				Done:        node.IsChecked,
			})
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk markdown: %v", model.ErrInvalidFormat, err)
	}

	if todo.Title == "" {
		return nil, fmt.Errorf("%w: todo list has no title heading", model.ErrInvalidFormat)
	}
	if len(todo.Items) == 0 {
		return nil, fmt.Errorf("%w: todo list has no task items", model.ErrInvalidFormat)
	}
	return todo, nil
}

// checkBoxLabel joins the text of the inline siblings that follow a checkbox.
func checkBoxLabel(box *extast.TaskCheckBox, src []byte) string {
	var b strings.Builder
	for c := box.NextSibling(); c != nil; c = c.NextSibling() {
		b.Write(c.Text(src))
		if t, ok := c.(*ast.Text); ok && (t.SoftLineBreak() || t.HardLineBreak()) {
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
