package checkpoint

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// List reads every checkpoint document under dir and returns its
// snapshot. Unreadable files are skipped; an operator inspecting
// progress should not be blocked by one corrupt run.
func List(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var snapshots []Snapshot
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "checkpoint_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		runID := strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint_"), ".json")
		s, err := Open(filepath.Join(dir, name), runID)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, s.Snapshot())
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].StartedAt.Before(snapshots[j].StartedAt)
	})
	return snapshots, nil
}
