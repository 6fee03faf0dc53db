// Package ignore matches local paths against a sync folder's ignore list:
// a set of baked-in defaults plus an optional per-folder .foldersyncignore
// file, in gitignore syntax.
package ignore

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

const FileName = ".foldersyncignore"

var defaultLines = []string{
	"**/*_conflict_*",
	"*.tmp",
	"*.log",
	"logs/",
	".git",
	".DS_Store",
	"Thumbs.db",
	"__pycache__/",
	".ipynb_checkpoints/",
	".vscode",
	".idea",
}

// List matches an absolute path against a compiled ignore ruleset rooted at
// baseDir.
type List struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

// Load reads baseDir/.foldersyncignore (if present) and compiles it
// together with the baked-in defaults.
func Load(baseDir string) *List {
	lines := defaultLines

	ignorePath := filepath.Join(baseDir, FileName)
	if custom, err := readIgnoreFile(ignorePath); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("ignore: failed to read ignore file", "path", ignorePath, "error", err)
		}
	} else if len(custom) > 0 {
		lines = append(append([]string{}, defaultLines...), custom...)
	}

	return &List{baseDir: baseDir, ignore: gitignore.CompileIgnoreLines(lines...)}
}

// ShouldIgnore reports whether path (absolute or already-relative to
// baseDir) matches the ruleset.
func (l *List) ShouldIgnore(path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(l.baseDir, path)
		if err != nil {
			return false
		}
		rel = r
	}
	return l.ignore.MatchesPath(rel)
}

func readIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}
	return lines, nil
}
