package tools

import (
	"context"
	"fmt"
	"path/filepath"
)

// RepoConfig roots repo.search at a checked-out repository.
type RepoConfig struct {
	Root string
}

// RegisterRepoTools adds repo.search, the read-only search surface over a
// configured repository checkout.
func RegisterRepoTools(d *Dispatcher, cfg RepoConfig) error {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return fmt.Errorf("repo root: %w", err)
	}
	return d.Register(&repoSearch{root: root})
}

type repoSearch struct{ root string }

func (t *repoSearch) Name() string { return "repo.search" }
func (t *repoSearch) Description() string {
	return "Search the configured repository for a literal string, case insensitive."
}
func (t *repoSearch) Schema() map[string]any {
	return objectSchema(map[string]any{
		"query": map[string]any{"type": "string", "minLength": 1},
	}, "query")
}

func (t *repoSearch) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	matches, err := searchTree(ctx, t.root, t.root, args.Query)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"query":   args.Query,
		"matches": toList(matches),
		"count":   len(matches),
	}, nil
}
