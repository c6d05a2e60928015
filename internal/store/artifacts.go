package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArtifactDir writes diagnostic screenshots to <dir>/<account>/<ts>_<step>.png.
type ArtifactDir struct {
	dir string
	now func() time.Time
}

func NewArtifactDir(dir string) *ArtifactDir {
	return &ArtifactDir{dir: dir, now: time.Now}
}

// Dir returns the root directory.
func (a *ArtifactDir) Dir() string { return a.dir }

// generateFilename creates a timestamped filename; dashes keep it portable.
func generateFilename(at time.Time, step, ext string) string {
	return at.Format("2006-01-02T15-04-05.000") + "_" + unsafeName.ReplaceAllString(step, "_") + ext
}

// Save implements the session artifact sink and returns the written path.
func (a *ArtifactDir) Save(_ context.Context, accountID, step string, png []byte) (string, error) {
	dir := filepath.Join(a.dir, unsafeName.ReplaceAllString(accountID, "_"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	path := filepath.Join(dir, generateFilename(a.now(), step, ".png"))
	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}

// Latest returns up to n artifact paths for accountID, newest first.
func (a *ArtifactDir) Latest(accountID string, n int) ([]string, error) {
	dir := filepath.Join(a.dir, unsafeName.ReplaceAllString(accountID, "_"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	// os.ReadDir sorts by name, which is chronological for our timestamps.
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	if n > 0 && len(files) > n {
		files = files[:n]
	}
	return files, nil
}
