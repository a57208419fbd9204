package mljob

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/spf13/afero"
)

// IgnoreFileName holds extra ignore patterns, in .dockerignore syntax, at the payload root.
const IgnoreFileName = ".mljobignore"

// DefaultIgnorePatterns are never uploaded.
var DefaultIgnorePatterns = []string{
	".git",
	".snowflake",
	".venv",
	"venv",
	"node_modules",
	"**/__pycache__",
	"**/*.pyc",
	"**/.DS_Store",
	"logs",
	"artifacts",
	IgnoreFileName,
}

// PayloadFile is one file of a directory payload.
type PayloadFile struct {
	Path string // local path
	Rel  string // slash-separated path relative to the payload root
}

// ReadIgnorePatterns combines defaultPatterns with the patterns of dir/.mljobignore, if present.
func ReadIgnorePatterns(fsys afero.Fs, dir string, defaultPatterns []string) (*patternmatcher.PatternMatcher, error) {
	ignorePath := filepath.Join(dir, IgnoreFileName)

	patterns := make([]string, len(defaultPatterns))
	copy(patterns, defaultPatterns)

	file, err := fsys.Open(ignorePath)
	switch {
	case err == nil:
		defer file.Close()
		filePatterns, err := ignorefile.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read ignore file %q: %w", ignorePath, err)
		}
		patterns = append(patterns, filePatterns...)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to open ignore file %q: %w", ignorePath, err)
	}

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}
	return matcher, nil
}

// CollectPayload lists the regular files under dir that matcher does not ignore, sorted by Rel.
func CollectPayload(fsys afero.Fs, dir string, matcher *patternmatcher.PatternMatcher) ([]PayloadFile, error) {
	var files []PayloadFile

	err := afero.Walk(fsys, dir, func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %q: %w", p, err)
		}
		if rel == "." {
			return nil
		}

		// Directories need a trailing slash to match directory patterns.
		relSlash := filepath.ToSlash(rel)
		if info.IsDir() && !strings.HasSuffix(relSlash, "/") {
			relSlash += "/"
		}
		ignored, err := matcher.MatchesOrParentMatches(relSlash)
		if err != nil {
			return fmt.Errorf("failed to check ignore patterns for %q: %w", p, err)
		}
		if ignored {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode().IsRegular() {
			files = append(files, PayloadFile{Path: p, Rel: filepath.ToSlash(rel)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}
