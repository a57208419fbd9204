// Package paths locates the repository root and the conventional output
// directories beneath it.
package paths

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// DefaultMarkers are the files or directories whose presence marks a repository root.
var DefaultMarkers = []string{
	"go.mod",
	".git",
	"pixi.toml",
	"requirements.txt",
	"pyproject.toml",
	"README.md",
}

// RepoRoot walks up from start until a directory containing one of markers is
// found. If none is found, the starting directory is returned. An empty start
// means the current working directory; nil markers means DefaultMarkers.
func RepoRoot(fs afero.Fs, start string, markers []string) (string, error) {
	if markers == nil {
		markers = DefaultMarkers
	}
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		start = wd
	}

	start, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	if fi, err := fs.Stat(start); err == nil && !fi.IsDir() {
		start = filepath.Dir(start)
	}

	for dir := start; ; dir = filepath.Dir(dir) {
		for _, m := range markers {
			if ok, _ := afero.Exists(fs, filepath.Join(dir, m)); ok {
				return dir, nil
			}
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}
	return start, nil
}

// LogsDir returns <root>/logs.
func LogsDir(root string) string {
	return filepath.Join(root, "logs")
}

// ArtifactsDir returns <root>/artifacts.
func ArtifactsDir(root string) string {
	return filepath.Join(root, "artifacts")
}
