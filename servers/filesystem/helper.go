package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// newlineNormalizer folds CRLF and lone CR into LF so edits and diffs see
// one newline convention.
var newlineNormalizer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// resolvePath makes requestedPath absolute, resolves it through symlinks and
// admits it only when the real location lives under one of the allowed
// roots. A path that does not exist yet is judged by where its directory
// really lives, so new files can only appear below real, allowed
// directories.
func resolvePath(requestedPath string, allowed []string) (string, error) {
	abs, err := filepath.Abs(requestedPath)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(abs)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		dir, dirErr := filepath.EvalSymlinks(filepath.Dir(abs))
		if dirErr != nil {
			return "", fmt.Errorf("access to %s is denied: parent directory is not accessible: %w",
				requestedPath, dirErr)
		}
		resolved = filepath.Join(dir, filepath.Base(abs))
	default:
		return "", err
	}

	for _, root := range allowed {
		if underRoot(resolved, root) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("access to %s is denied: outside the allowed roots", requestedPath)
}

// underRoot reports whether path equals root or lives below it. Both paths
// must already be absolute and symlink-free.
func underRoot(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// applyFileEdits applies the edits in order and returns a line diff of the
// change. With dryRun set the file is left untouched.
func applyFileEdits(path string, edits []editOperation, dryRun bool) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	before := newlineNormalizer.Replace(string(content))
	after := before
	for _, edit := range edits {
		oldText := newlineNormalizer.Replace(edit.OldText)
		if !strings.Contains(after, oldText) {
			return "", fmt.Errorf("could not find exact match for edit:\n%s", edit.OldText)
		}
		after = strings.Replace(after, oldText, newlineNormalizer.Replace(edit.NewText), 1)
	}

	if !dryRun {
		if err := os.WriteFile(path, []byte(after), 0600); err != nil {
			return "", fmt.Errorf("failed to write file: %w", err)
		}
	}
	return renderLineDiff(path, before, after), nil
}

// renderLineDiff compares the two texts line by line and renders the result
// with "-" and "+" markers, unchanged lines kept for context.
func renderLineDiff(path, before, after string) string {
	dmp := diffmatchpatch.New()
	beforeRunes, afterRunes, lineTable := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(beforeRunes, afterRunes, false), lineTable)

	var out strings.Builder
	fmt.Fprintf(&out, "diff %s\n", path)
	for _, d := range diffs {
		marker := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			marker = "-"
		case diffmatchpatch.DiffInsert:
			marker = "+"
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			out.WriteString(marker)
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}
	return out.String()
}

// searchFilesWithPattern walks root looking for entries whose names contain
// pattern, case-insensitive, skipping anything matching an exclude glob.
func searchFilesWithPattern(root, pattern string, allowed, excludePatterns []string) ([]string, error) {
	// Patterns without '*' are bare names that exclude a matching path
	// component anywhere in the tree; patterns containing '*' are matched as
	// globs against the slash-separated relative path.
	var names []string
	var compiled []glob.Glob
	for _, p := range excludePatterns {
		if !strings.Contains(p, "*") {
			names = append(names, p)
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}

	needle := strings.ToLower(pattern)
	var results []string

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			if _, err := resolvePath(full, allowed); err != nil {
				continue
			}
			rel, err := filepath.Rel(root, full)
			if err != nil {
				continue
			}

			if isExcluded(filepath.ToSlash(rel), names, compiled) {
				continue
			}

			if strings.Contains(strings.ToLower(entry.Name()), needle) {
				results = append(results, full)
			}
			if entry.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return results, nil
}

func isExcluded(rel string, names []string, compiled []glob.Glob) bool {
	for _, segment := range strings.Split(rel, "/") {
		for _, name := range names {
			if segment == name {
				return true
			}
		}
	}
	for _, g := range compiled {
		if g.Match(rel) {
			return true
		}
	}
	return false
}
