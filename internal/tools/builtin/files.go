// Package builtin provides workspace file tools so the runtime is usable
// without external tool servers. The orchestrator treats them like any
// other registered tool.
package builtin

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/compresr/agent-runtime/internal/tools"
)

const (
	maxReadBytes      = 256 * 1024
	maxSearchFileSize = 1024 * 1024
	defaultMaxResults = 50
)

// ReadFileArgs are the arguments of read_file.
type ReadFileArgs struct {
	Path   string `json:"path" jsonschema:"description=File path relative to the workspace" validate:"required"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=First line to return (0-based)" validate:"gte=0"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Maximum number of lines" validate:"gte=0"`
}

// SearchFilesArgs are the arguments of search_files.
type SearchFilesArgs struct {
	Pattern    string `json:"pattern" jsonschema:"description=Regular expression matched per line" validate:"required"`
	Path       string `json:"path,omitempty" jsonschema:"description=Directory to search, relative to the workspace"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of matches" validate:"gte=0,lte=1000"`
}

// Match is one search hit.
type Match struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Register adds the file tools rooted at workspace to reg.
func Register(reg *tools.Registry, workspace string) error {
	root, err := filepath.Abs(workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	reg.MustRegister(ReadFile(root), SearchFiles(root))
	return nil
}

// ReadFile returns the read_file tool.
func ReadFile(root string) tools.Tool {
	return tools.NewTyped("read_file", "Read a text file from the workspace",
		func(ctx context.Context, args ReadFileArgs) (*tools.Status, error) {
			path, err := resolve(root, args.Path)
			if err != nil {
				return tools.Failed(err.Error()), nil
			}
			f, err := os.Open(path)
			if err != nil {
				return tools.Failed(err.Error()), nil
			}
			defer f.Close()

			var out strings.Builder
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), maxReadBytes)
			line, taken := 0, 0
			for scanner.Scan() {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if line >= args.Offset && (args.Limit == 0 || taken < args.Limit) {
					if out.Len()+len(scanner.Text()) > maxReadBytes {
						break
					}
					out.WriteString(scanner.Text())
					out.WriteByte('\n')
					taken++
				}
				line++
			}
			if err := scanner.Err(); err != nil {
				return tools.Failed(err.Error()), nil
			}
			return tools.OK(out.String(), map[string]any{"path": args.Path, "lines": taken}), nil
		})
}

// SearchFiles returns the search_files tool.
func SearchFiles(root string) tools.Tool {
	return tools.NewTyped("search_files", "Search workspace files for lines matching a regular expression",
		func(ctx context.Context, args SearchFilesArgs) (*tools.Status, error) {
			re, err := regexp.Compile(args.Pattern)
			if err != nil {
				return tools.Failed(fmt.Sprintf("invalid pattern: %v", err)), nil
			}
			dir, err := resolve(root, args.Path)
			if err != nil {
				return tools.Failed(err.Error()), nil
			}
			limit := args.MaxResults
			if limit == 0 {
				limit = defaultMaxResults
			}

			matches, err := search(ctx, root, dir, re, limit)
			if err != nil {
				return tools.Failed(err.Error()), nil
			}

			var out strings.Builder
			for _, m := range matches {
				fmt.Fprintf(&out, "%s:%d: %s\n", m.File, m.Line, m.Text)
			}
			return tools.OK(out.String(), matches), nil
		})
}

func search(ctx context.Context, root, dir string, re *regexp.Regexp, limit int) ([]Match, error) {
	matches := make([]Match, 0)
	errLimit := fmt.Errorf("limit reached")

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if name := d.Name(); path != dir && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxSearchFileSize {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(root, path)
		scanner := bufio.NewScanner(f)
		for n := 1; scanner.Scan(); n++ {
			text := scanner.Text()
			if strings.IndexByte(text, 0) >= 0 {
				return nil // binary
			}
			if re.MatchString(text) {
				matches = append(matches, Match{File: filepath.ToSlash(rel), Line: n, Text: strings.TrimSpace(text)})
				if len(matches) >= limit {
					return errLimit
				}
			}
		}
		return nil
	})
	if err != nil && err != errLimit {
		return nil, err
	}
	return matches, nil
}

// resolve joins rel onto root and rejects paths that escape it.
func resolve(root, rel string) (string, error) {
	path := filepath.Join(root, filepath.Clean("/"+rel))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return path, nil
}
