package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func codebaseDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"main.go":       "package main\n\nfunc main() {}\n",
		"pkg/helper.go": "package pkg\n\n// Helper does the thing.\nfunc Helper() {}\n",
		"pkg/README.md": "helper docs\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func codebaseDispatcher(t *testing.T, root string) *Dispatcher {
	t.Helper()
	d := NewDispatcher(nil, nil)
	if err := RegisterCodebaseTools(d, CodebaseConfig{Root: root}); err != nil {
		t.Fatalf("RegisterCodebaseTools() error = %v", err)
	}
	return d
}

func TestCodebaseReadFile(t *testing.T) {
	d := codebaseDispatcher(t, codebaseDir(t))
	result := d.Execute(context.Background(), "codebase.read_file", map[string]any{"path": "main.go"}, "u", Context{})
	if !result.Success {
		t.Fatalf("codebase.read_file failed: %s", result.Error)
	}
	content, _ := result.Output["content"].(string)
	if content != "package main\n\nfunc main() {}\n" {
		t.Fatalf("content = %q", content)
	}
	if result.Output["chars"] != len(content) {
		t.Fatalf("chars = %v, want %d", result.Output["chars"], len(content))
	}
}

func TestCodebaseListDirectory(t *testing.T) {
	d := codebaseDispatcher(t, codebaseDir(t))
	result := d.Execute(context.Background(), "codebase.list_directory", map[string]any{}, "u", Context{})
	if !result.Success {
		t.Fatalf("codebase.list_directory failed: %s", result.Error)
	}
	entries, _ := result.Output["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries = %v, want main.go and pkg/", entries)
	}
	found := map[string]bool{}
	for _, entry := range entries {
		found[entry.(string)] = true
	}
	if !found["main.go"] || !found["pkg/"] {
		t.Fatalf("entries = %v, directories must carry a trailing slash", entries)
	}
}

func TestCodebaseSearch(t *testing.T) {
	d := codebaseDispatcher(t, codebaseDir(t))
	result := d.Execute(context.Background(), "codebase.search", map[string]any{"query": "helper"}, "u", Context{})
	if !result.Success {
		t.Fatalf("codebase.search failed: %s", result.Error)
	}
	matches, _ := result.Output["matches"].([]any)
	if len(matches) < 2 {
		t.Fatalf("matches = %v, want hits in helper.go and README.md", matches)
	}
	first := matches[0].(map[string]any)
	if first["file"] == "" || first["line"] == nil || first["text"] == "" {
		t.Fatalf("match shape = %v", first)
	}
	for _, m := range matches {
		file := m.(map[string]any)["file"].(string)
		if filepath.IsAbs(file) {
			t.Fatalf("match file %q is absolute, want root-relative", file)
		}
	}
}

func TestCodebasePathConfinement(t *testing.T) {
	d := codebaseDispatcher(t, codebaseDir(t))
	for _, path := range []string{"../secrets.txt", "pkg/../../etc/passwd", "/etc/passwd"} {
		read := d.Execute(context.Background(), "codebase.read_file", map[string]any{"path": path}, "u", Context{})
		if read.Success {
			t.Fatalf("codebase.read_file escaped the root with %q", path)
		}
		list := d.Execute(context.Background(), "codebase.list_directory", map[string]any{"path": path}, "u", Context{})
		if list.Success {
			t.Fatalf("codebase.list_directory escaped the root with %q", path)
		}
	}
}

func TestRepoSearch(t *testing.T) {
	dir := codebaseDir(t)
	d := NewDispatcher(nil, nil)
	if err := RegisterRepoTools(d, RepoConfig{Root: dir}); err != nil {
		t.Fatalf("RegisterRepoTools() error = %v", err)
	}
	result := d.Execute(context.Background(), "repo.search", map[string]any{"query": "package main"}, "u", Context{})
	if !result.Success {
		t.Fatalf("repo.search failed: %s", result.Error)
	}
	matches, _ := result.Output["matches"].([]any)
	if len(matches) != 1 {
		t.Fatalf("matches = %v, want one hit in main.go", matches)
	}
}
