package toolexec

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// maxSearchMatches bounds search_code output.
const maxSearchMatches = 100

// readFile returns a file's contents, subject to the exclusion globs and
// the size cap.
func (e *Executor) readFile(_ context.Context, workDir string, args map[string]any) (string, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	path, err := e.resolve(workDir, rel)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", rel)
	}
	if info.Size() > e.cfg.MaxFileSizeBytes {
		return "", fmt.Errorf("%s is %d bytes, over the %d byte limit", rel, info.Size(), e.cfg.MaxFileSizeBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// searchCode greps files under the working directory for a regex pattern.
func (e *Executor) searchCode(ctx context.Context, workDir string, args map[string]any) (string, error) {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return "", err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}

	root := workDir
	if rel, _ := stringArg(args, "path"); rel != "" {
		if root, err = e.resolve(workDir, rel); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.excluded(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > e.cfg.MaxFileSizeBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || !utf8Like(data) {
			return nil
		}
		relPath, _ := filepath.Rel(workDir, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&b, "%s:%d: %s\n", relPath, i+1, strings.TrimSpace(line))
				matches++
				if matches >= maxSearchMatches {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		return "", fmt.Errorf("search: %w", walkErr)
	}
	if matches == 0 {
		return "no matches", nil
	}
	return b.String(), nil
}

// listFiles lists one directory level.
func (e *Executor) listFiles(_ context.Context, workDir string, args map[string]any) (string, error) {
	root := workDir
	if rel, _ := stringArg(args, "path"); rel != "" {
		var err error
		if root, err = e.resolve(workDir, rel); err != nil {
			return "", err
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("list: %w", err)
	}

	var b strings.Builder
	for _, ent := range entries {
		if e.excluded(ent.Name()) {
			continue
		}
		name := ent.Name()
		if ent.IsDir() {
			name += "/"
		}
		b.WriteString(name + "\n")
	}
	if b.Len() == 0 {
		return "empty directory", nil
	}
	return b.String(), nil
}

// commandWhitelist is the closed set of binaries run_command may start.
// git and go are restricted further to read-only subcommands.
var commandWhitelist = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true,
	"grep": true, "rg": true, "find": true, "wc": true,
	"file": true, "stat": true, "git": true, "go": true,
}

var gitSubcommands = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true, "branch": true,
}

// runCommand executes a whitelisted read-only shell command with the
// working directory set explicitly via cmd.Dir.
func (e *Executor) runCommand(ctx context.Context, workDir string, args map[string]any) (string, error) {
	raw, err := stringArg(args, "command")
	if err != nil {
		return "", err
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty command")
	}

	bin := fields[0]
	if !commandWhitelist[bin] {
		return "", fmt.Errorf("command %q not permitted", bin)
	}
	if bin == "git" && (len(fields) < 2 || !gitSubcommands[fields[1]]) {
		return "", fmt.Errorf("git subcommand not permitted (allowed: status, log, diff, show, branch)")
	}
	if bin == "go" && (len(fields) != 2 || fields[1] != "version") {
		return "", fmt.Errorf("only 'go version' is permitted")
	}

	cmd := exec.CommandContext(ctx, bin, fields[1:]...)
	cmd.Dir = workDir
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out")
	}
	if err != nil {
		return "", fmt.Errorf("command failed: %v: %s", err, firstLine(string(out)))
	}
	return string(out), nil
}

// FileTree renders the working directory tree for round-1 prompt
// injection, outside the request/history machinery.
func (e *Executor) FileTree(workDir string, maxDepth, maxFiles int) (string, error) {
	return e.fileTree(context.Background(), workDir, map[string]any{
		"max_depth": maxDepth,
		"max_files": maxFiles,
	})
}

// fileTree renders the directory tree up to max_depth levels and
// max_files entries. Walks relative paths inside a scoped chdir so the
// output never leaks the absolute server-side path.
func (e *Executor) fileTree(_ context.Context, workDir string, args map[string]any) (string, error) {
	maxDepth := intArg(args, "max_depth", 3)
	maxFiles := intArg(args, "max_files", 200)

	var b strings.Builder
	count := 0
	err := withDir(workDir, func() error {
		return filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
			if err != nil || path == "." {
				return nil
			}
			if e.excluded(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			depth := strings.Count(path, string(filepath.Separator))
			if depth >= maxDepth {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if count >= maxFiles {
				return filepath.SkipAll
			}
			indent := strings.Repeat("  ", depth)
			name := d.Name()
			if d.IsDir() {
				name += "/"
			}
			b.WriteString(indent + name + "\n")
			count++
			return nil
		})
	})
	if err != nil && err != filepath.SkipAll {
		return "", fmt.Errorf("file tree: %w", err)
	}
	if count >= maxFiles {
		fmt.Fprintf(&b, "... (capped at %d entries)\n", maxFiles)
	}
	return b.String(), nil
}

// resolve joins rel against workDir, rejects escapes above it, and
// applies the exclusion globs to every path segment.
func (e *Executor) resolve(workDir, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths not permitted: %s", rel)
	}
	joined := filepath.Clean(filepath.Join(workDir, rel))
	base := filepath.Clean(workDir)
	if joined != base && !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes working directory: %s", rel)
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if e.excluded(seg) {
			return "", fmt.Errorf("path %s is excluded by policy", rel)
		}
	}
	return joined, nil
}

// excluded matches a single path segment against the policy globs.
func (e *Executor) excluded(name string) bool {
	for _, pat := range e.cfg.ExcludePatterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// utf8Like rejects binary files by scanning a prefix for NUL bytes.
func utf8Like(data []byte) bool {
	n := len(data)
	if n > 512 {
		n = 512
	}
	for _, c := range data[:n] {
		if c == 0 {
			return false
		}
	}
	return true
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return v, nil
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
