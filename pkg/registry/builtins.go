package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/viant/afs"
)

// RegisterBuiltins adds the default toolset: working directory and listing,
// string helpers, and a todo list scoped to this registry.
func RegisterBuiltins(r *Registry) {
	fs := afs.New()

	r.Register(Tool{Name: "pwd", Description: "Print current working directory"},
		func(context.Context, map[string]any) (any, error) {
			cwd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			return map[string]any{"cwd": cwd}, nil
		})

	r.Register(Tool{
		Name:        "ls",
		Description: "List directory contents",
		Parameters:  ObjectSchema(map[string]string{"path": "Directory to list"}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		path := stringArg(args, "path")
		if path == "" {
			path = "."
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		objects, err := fs.List(ctx, path)
		if err != nil {
			return nil, err
		}
		entries := make([]string, 0, len(objects))
		for i, obj := range objects {
			// The first object is the listed directory itself.
			if i == 0 && obj.IsDir() {
				continue
			}
			entries = append(entries, obj.Name())
		}
		return map[string]any{"entries": entries}, nil
	})

	text := func(name, desc string, fn func(string) string) {
		r.Register(Tool{
			Name:        name,
			Description: desc,
			Parameters:  ObjectSchema(map[string]string{"text": "Input text"}, "text"),
		}, func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"result": fn(stringArg(args, "text"))}, nil
		})
	}
	text("to_upper", "Convert text to uppercase", strings.ToUpper)
	text("to_lower", "Convert text to lowercase", strings.ToLower)
	text("trim", "Trim whitespace", strings.TrimSpace)
	text("reverse", "Reverse string", reverse)

	todos := &todoList{}
	r.Register(Tool{
		Name:        "todo_add",
		Description: "Add a task",
		Parameters:  ObjectSchema(map[string]string{"task": "Task description"}, "task"),
	}, func(_ context.Context, args map[string]any) (any, error) {
		task := strings.TrimSpace(stringArg(args, "task"))
		if task == "" {
			return nil, fmt.Errorf("task is required")
		}
		return map[string]any{"index": todos.add(task)}, nil
	})
	r.Register(Tool{Name: "todo_list", Description: "List tasks"},
		func(context.Context, map[string]any) (any, error) {
			return map[string]any{"todos": todos.list()}, nil
		})
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

type todoList struct {
	mu    sync.Mutex
	items []string
}

func (t *todoList) add(task string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, task)
	return len(t.items) - 1
}

func (t *todoList) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.items...)
}
