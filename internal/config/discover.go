package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lazyd/internal/common/fsutil"
)

// DiscoverGGUF scans a directory for *.gguf files and declares one lazy worker
// per file. The worker ID is the filename without extension; ModelPath is the
// absolute file path. Other fields are left for ApplyDefaults.
func DiscoverGGUF(dir string) ([]WorkerConfig, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read models dir: %w", err)
	}
	var out []WorkerConfig
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		out = append(out, WorkerConfig{
			ModelID:   strings.TrimSuffix(name, filepath.Ext(name)),
			ModelPath: filepath.Join(abs, name),
			Lazy:      true,
		})
	}
	return out, nil
}

// mergeDiscovered appends discovered workers whose ID is not already declared.
// Explicit entries always win.
func mergeDiscovered(declared, found []WorkerConfig) []WorkerConfig {
	ids := make(map[string]struct{}, len(declared))
	for _, m := range declared {
		ids[m.ModelID] = struct{}{}
	}
	for _, f := range found {
		if _, ok := ids[f.ModelID]; ok {
			continue
		}
		ids[f.ModelID] = struct{}{}
		declared = append(declared, f)
	}
	return declared
}
