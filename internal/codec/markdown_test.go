package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/stepwise/internal/model"
)

func TestRenderTodo(t *testing.T) {
	p := samplePlan()
	p.Steps[2].Status = model.StatusBlocked

	want := "# Deploy Service\n\n" +
		"- [x] [CODE] Build\n" +
		"- [ ] Test\n" +
		"- [ ] Deploy\n"
	assert.Equal(t, want, RenderTodo(p))
}

func TestRenderTodoMetadata(t *testing.T) {
	p := samplePlan()
	p.Metadata = map[string]any{
		"owner":   "platform team",
		"retries": 3.0,
		"labels":  map[string]any{"tier": "gold"},
	}

	md := RenderTodo(p)
	want := "- [ ] Deploy\n\n## Metadata\n\n" +
		"- **labels**: {\"tier\":\"gold\"}\n" +
		"- **owner**: platform team\n" +
		"- **retries**: 3\n"
	assert.True(t, strings.HasSuffix(md, want), "got:\n%s", md)

	todo, err := ParseTodo([]byte(md))
	require.NoError(t, err)
	assert.Len(t, todo.Items, len(p.Steps), "metadata bullets are not task items")
}

func TestRenderTodoFlattensNewlines(t *testing.T) {
	p := &model.Plan{
		Title: "Multi\nline",
		Steps: []model.Step{{Index: 0, Description: "first\nsecond", Status: model.StatusPending}},
	}
	assert.Equal(t, "# Multi line\n\n- [ ] first second\n", RenderTodo(p))
}

func TestParseTodo(t *testing.T) {
	src := `# Release checklist

Some intro text.

- [x] Build the *binary*
- [ ] Run ` + "`go test`" + `
- [X] Tag release
- plain bullet that is not a task
`
	todo, err := ParseTodo([]byte(src))
	require.NoError(t, err)

	assert.Equal(t, "Release checklist", todo.Title)
	require.Len(t, todo.Items, 3)
	assert.Equal(t, TodoItem{Description: "Build the binary", Done: true}, todo.Items[0])
	assert.Equal(t, TodoItem{Description: "Run go test", Done: false}, todo.Items[1])
	assert.Equal(t, TodoItem{Description: "Tag release", Done: true}, todo.Items[2])
}

func TestParseTodoRoundTripsRender(t *testing.T) {
	p := samplePlan()
	todo, err := ParseTodo([]byte(RenderTodo(p)))
	require.NoError(t, err)

	assert.Equal(t, p.Title, todo.Title)
	require.Len(t, todo.Items, len(p.Steps))
	for i, s := range p.Steps {
		assert.Equal(t, s.Status == model.StatusCompleted, todo.Items[i].Done, "item %d", i)
	}
	assert.Equal(t, "Test", todo.Items[1].Description)
}

func TestParseTodoInvalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no heading", "- [ ] a\n"},
		{"only h2", "## Sub\n\n- [ ] a\n"},
		{"no tasks", "# Title\n\n- plain\n"},
		{"empty", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTodo([]byte(tc.src))
			assert.ErrorIs(t, err, model.ErrInvalidFormat)
		})
	}
}
