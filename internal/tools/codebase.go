package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxReadFileBytes = 256 << 10
	maxSearchMatches = 50
)

// CodebaseConfig roots the codebase tool family at one directory. All paths
// a caller supplies are resolved under Root and may not escape it.
type CodebaseConfig struct {
	Root string
}

// RegisterCodebaseTools adds codebase.read_file, codebase.list_directory, and
// codebase.search, all confined to cfg.Root.
func RegisterCodebaseTools(d *Dispatcher, cfg CodebaseConfig) error {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return fmt.Errorf("codebase root: %w", err)
	}
	for _, tool := range []Tool{
		&codebaseRead{root: root},
		&codebaseList{root: root},
		&codebaseSearch{root: root},
	} {
		if err := d.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// resolveUnder joins a relative path onto root and rejects anything that
// cleans to a location outside it.
func resolveUnder(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative")
	}
	joined := filepath.Clean(filepath.Join(root, rel))
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace")
	}
	return joined, nil
}

type codebaseRead struct{ root string }

func (t *codebaseRead) Name() string        { return "codebase.read_file" }
func (t *codebaseRead) Description() string { return "Read a file from the local workspace." }
func (t *codebaseRead) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{"type": "string", "minLength": 1},
	}, "path")
}

func (t *codebaseRead) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	target, err := resolveUnder(t.root, args.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", args.Path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", args.Path)
	}
	if info.Size() > maxReadFileBytes {
		return nil, fmt.Errorf("%s is too large to read (%d bytes)", args.Path, info.Size())
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args.Path, err)
	}
	return map[string]any{
		"path":    args.Path,
		"content": string(data),
		"chars":   len(data),
	}, nil
}

type codebaseList struct{ root string }

func (t *codebaseList) Name() string        { return "codebase.list_directory" }
func (t *codebaseList) Description() string { return "List the entries of a workspace directory." }
func (t *codebaseList) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{"type": "string"},
	})
}

func (t *codebaseList) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		args.Path = "."
	}
	target, err := resolveUnder(t.root, args.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", args.Path, err)
	}
	names := make([]any, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return map[string]any{
		"path":    args.Path,
		"entries": names,
		"count":   len(names),
	}, nil
}

type searchMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

type codebaseSearch struct{ root string }

func (t *codebaseSearch) Name() string { return "codebase.search" }
func (t *codebaseSearch) Description() string {
	return "Search workspace files for a literal string, case insensitive."
}
func (t *codebaseSearch) Schema() map[string]any {
	return objectSchema(map[string]any{
		"query": map[string]any{"type": "string", "minLength": 1},
		"path":  map[string]any{"type": "string"},
	}, "query")
}

func (t *codebaseSearch) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		Query string `json:"query"`
		Path  string `json:"path"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		args.Path = "."
	}
	start, err := resolveUnder(t.root, args.Path)
	if err != nil {
		return nil, err
	}
	matches, err := searchTree(ctx, t.root, start, args.Query)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"query":   args.Query,
		"matches": toList(matches),
		"count":   len(matches),
	}, nil
}

func searchTree(ctx context.Context, root, start, query string) ([]searchMatch, error) {
	needle := strings.ToLower(query)
	var matches []searchMatch
	err := filepath.WalkDir(start, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			if name := entry.Name(); name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxSearchMatches {
			return filepath.SkipAll
		}
		if info, err := entry.Info(); err != nil || info.Size() > maxReadFileBytes {
			return nil
		}
		found, err := searchFile(path, needle)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		for _, match := range found {
			match.File = filepath.ToSlash(rel)
			matches = append(matches, match)
			if len(matches) >= maxSearchMatches {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].File != matches[j].File {
			return matches[i].File < matches[j].File
		}
		return matches[i].Line < matches[j].Line
	})
	return matches, nil
}

func searchFile(path, needle string) ([]searchMatch, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var matches []searchMatch
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64<<10), 64<<10)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.Contains(strings.ToLower(text), needle) {
			if len(text) > 200 {
				text = text[:200]
			}
			matches = append(matches, searchMatch{Line: line, Text: strings.TrimSpace(text)})
		}
	}
	return matches, scanner.Err()
}
