// Package artifacts moves job outputs between stages and the local machine.
package artifacts

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
	"github.com/aiqojo/sf-ml-test/internal/warehouse"
)

// DefaultSubdir is the stage subdirectory outputs are saved under.
const DefaultSubdir = "output"

// SaveToStage uploads r as @<stage>/<subdir>/<filename> and returns that path.
func SaveToStage(ctx context.Context, files warehouse.StageFiles, r io.Reader, filename, stage, subdir string, overwrite bool) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return "", apperrors.Validation("filename", fmt.Sprintf("invalid file name %q", filename))
	}
	if subdir == "" {
		subdir = DefaultSubdir
	}

	stagePath := warehouse.StagePath(stage, subdir, filename)
	if err := files.Put(ctx, r, stagePath, overwrite); err != nil {
		return "", err
	}
	return stagePath, nil
}

// SaveCSVToStage writes records as CSV to @<stage>/<subdir>/<filename>.
func SaveCSVToStage(ctx context.Context, files warehouse.StageFiles, records [][]string, filename, stage, subdir string, overwrite bool) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return "", fmt.Errorf("failed to encode CSV: %w", err)
	}
	return SaveToStage(ctx, files, &buf, filename, stage, subdir, overwrite)
}

// DownloadFromStage copies the staged file to localPath. When localPath is an
// existing directory or has no extension, the staged file name is appended.
// Parent directories are created. It returns the local file path.
func DownloadFromStage(ctx context.Context, files warehouse.StageFiles, fsys afero.Fs, stagePath, localPath string) (string, error) {
	_, name, err := warehouse.SplitStagePath(stagePath)
	if err != nil {
		return "", err
	}
	if localPath == "" {
		localPath = "."
	}
	if isDir, _ := afero.IsDir(fsys, localPath); isDir || filepath.Ext(localPath) == "" {
		localPath = filepath.Join(localPath, name)
	}
	if err := fsys.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", err
	}

	f, err := fsys.Create(localPath)
	if err != nil {
		return "", err
	}
	if err := files.Get(ctx, stagePath, f); err != nil {
		f.Close()
		_ = fsys.Remove(localPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return localPath, nil
}

// SelectArtifacts picks the stage paths to download from a job result.
// With explicit keys, those keys are used. Otherwise a non-empty "outputs"
// object is used, falling back to top-level keys ending in _stage_path or _path.
// Only non-empty string values are kept.
func SelectArtifacts(result map[string]any, keys []string) map[string]string {
	selected := make(map[string]string)
	if result == nil {
		return selected
	}

	add := func(src map[string]any, key string) {
		if s, ok := src[key].(string); ok && s != "" {
			selected[key] = s
		}
	}

	if keys != nil {
		for _, k := range keys {
			add(result, k)
		}
		return selected
	}

	if outputs, ok := result["outputs"].(map[string]any); ok && len(outputs) > 0 {
		for k := range outputs {
			add(outputs, k)
		}
		return selected
	}

	for k := range result {
		if strings.HasSuffix(k, "_stage_path") || strings.HasSuffix(k, "_path") {
			add(result, k)
		}
	}
	return selected
}

// DownloadJobArtifacts downloads every selected artifact into dir, naming each
// file after the last element of its stage path. It returns key -> local path.
func DownloadJobArtifacts(ctx context.Context, files warehouse.StageFiles, fsys afero.Fs, artifacts map[string]string, dir string) (map[string]string, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(artifacts))
	for k := range artifacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	downloaded := make(map[string]string, len(keys))
	for _, k := range keys {
		stagePath := artifacts[k]
		local, err := DownloadFromStage(ctx, files, fsys, stagePath, dir)
		if err != nil {
			return downloaded, fmt.Errorf("failed to download artifact %s: %w", k, err)
		}
		downloaded[k] = local
	}
	return downloaded, nil
}
