// Package filesystem provides an MCP server exposing a restricted view of
// the local filesystem. All operations are confined to a set of allowed root
// directories; paths are validated against them, following symlinks.
package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	mcp "github.com/peerfold/go-mcp"
)

// NewServer builds an MCP server with the given implementation info that
// serves the filesystem tool set over the given allowed root directories.
//
// It returns an error if any root does not exist or is not a directory.
func NewServer(info mcp.Info, roots []string, options ...mcp.ServerOption) (*mcp.Server, error) {
	allowed := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root directory %s: %w", root, err)
		}
		// Roots are stored symlink-free; resolvePath compares real locations
		// against them.
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root directory %s: %w", root, err)
		}
		fi, err := os.Stat(real)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root directory: %w", err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("root directory is not a directory: %s", root)
		}
		allowed = append(allowed, real)
	}

	srv := mcp.NewServer(info, options...)
	h := handlers{allowed: allowed}

	srv.AddTool(mcp.Tool{
		Name: "read_file",
		Description: `Read the complete contents of a file from the file system.
Handles various text encodings and provides detailed error messages
if the file cannot be read. Only works within allowed directories.`,
		InputSchema: readFileSchema,
	}, h.readFile)

	srv.AddTool(mcp.Tool{
		Name: "write_file",
		Description: `Create a new file or completely overwrite an existing file with new content.
Use with caution as it will overwrite existing files without warning.
Only works within allowed directories.`,
		InputSchema: writeFileSchema,
	}, h.writeFile)

	srv.AddTool(mcp.Tool{
		Name: "edit_file",
		Description: `Make text edits to a file. Each edit replaces an exact text sequence
with new content. Returns a git-style diff showing the changes made;
with dryRun set, the diff is returned without touching the file.
Only works within allowed directories.`,
		InputSchema: editFileSchema,
	}, h.editFile)

	srv.AddTool(mcp.Tool{
		Name: "list_directory",
		Description: `Get a detailed listing of all files and directories in a specified path.
Results distinguish files and directories with [FILE] and [DIR] prefixes.
Only works within allowed directories.`,
		InputSchema: listDirectorySchema,
	}, h.listDirectory)

	srv.AddTool(mcp.Tool{
		Name: "move_file",
		Description: `Move or rename files and directories. If the destination exists, the
operation fails. Both source and destination must be within allowed directories.`,
		InputSchema: moveFileSchema,
	}, h.moveFile)

	srv.AddTool(mcp.Tool{
		Name: "search_files",
		Description: `Recursively search for files and directories whose names match a pattern,
starting from the given path. The search is case-insensitive and matches
partial names; exclude patterns use glob syntax. Returns full paths to all
matching entries. Only searches within allowed directories.`,
		InputSchema: searchFilesSchema,
	}, h.searchFiles)

	srv.AddTool(mcp.Tool{
		Name: "get_file_info",
		Description: `Retrieve metadata about a file or directory: size, modification time,
permissions and type, without reading the content. Only works within
allowed directories.`,
		InputSchema: getFileInfoSchema,
	}, h.getFileInfo)

	srv.AddTool(mcp.Tool{
		Name: "list_allowed_directories",
		Description: `List the root directories this server is allowed to access. Useful for
discovering where other tools may operate.`,
		InputSchema: emptySchema,
	}, h.listAllowedDirectories)

	if err := srv.AddResourceTemplate(mcp.ResourceTemplate{
		URITemplate: "file:///{+path}",
		Name:        "file",
		Description: "A file below one of the allowed root directories.",
	}, h.readResource); err != nil {
		return nil, err
	}

	return srv, nil
}

type handlers struct {
	allowed []string
}

func (h handlers) readFile(_ context.Context, args json.RawMessage) (mcp.CallToolResult, error) {
	var params readFileArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return mcp.CallToolResult{}, err
	}

	path, err := resolvePath(params.Path, h.allowed)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to stat file with path %s: %w", path, err)
	}
	if fi.IsDir() {
		return mcp.CallToolResult{}, fmt.Errorf("path %s is a directory, not a file", path)
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to read file with path %s: %w", path, err)
	}
	return textResult(string(bs)), nil
}

func (h handlers) writeFile(_ context.Context, args json.RawMessage) (mcp.CallToolResult, error) {
	var params writeFileArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return mcp.CallToolResult{}, err
	}

	path, err := resolvePath(params.Path, h.allowed)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	if err := os.WriteFile(path, []byte(params.Content), 0600); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to write file with path %s: %w", path, err)
	}
	return textResult(fmt.Sprintf("File %s written successfully", params.Path)), nil
}

func (h handlers) editFile(_ context.Context, args json.RawMessage) (mcp.CallToolResult, error) {
	var params editFileArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return mcp.CallToolResult{}, err
	}

	path, err := resolvePath(params.Path, h.allowed)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	diff, err := applyFileEdits(path, params.Edits, params.DryRun)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	return textResult(diff), nil
}

func (h handlers) listDirectory(_ context.Context, args json.RawMessage) (mcp.CallToolResult, error) {
	var params listDirectoryArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return mcp.CallToolResult{}, err
	}

	path, err := resolvePath(params.Path, h.allowed)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to read directory with path %s: %w", path, err)
	}

	var sb strings.Builder
	for _, entry := range entries {
		prefix := "[FILE] "
		if entry.IsDir() {
			prefix = "[DIR] "
		}
		sb.WriteString(prefix)
		sb.WriteString(entry.Name())
		sb.WriteByte('\n')
	}
	return textResult(sb.String()), nil
}

func (h handlers) moveFile(_ context.Context, args json.RawMessage) (mcp.CallToolResult, error) {
	var params moveFileArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return mcp.CallToolResult{}, err
	}

	source, err := resolvePath(params.Source, h.allowed)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	destination, err := resolvePath(params.Destination, h.allowed)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	if _, err := os.Stat(destination); err == nil {
		return mcp.CallToolResult{}, fmt.Errorf("destination %s already exists", params.Destination)
	}
	if err := os.Rename(source, destination); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to move file with path %s: %w", source, err)
	}
	return textResult(fmt.Sprintf("File %s moved to %s successfully", params.Source, params.Destination)), nil
}

func (h handlers) searchFiles(_ context.Context, args json.RawMessage) (mcp.CallToolResult, error) {
	var params searchFilesArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return mcp.CallToolResult{}, err
	}

	path, err := resolvePath(params.Path, h.allowed)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	matches, err := searchFilesWithPattern(path, params.Pattern, h.allowed, params.ExcludePatterns)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	if len(matches) == 0 {
		return textResult("No matches found"), nil
	}
	return textResult(strings.Join(matches, "\n")), nil
}

func (h handlers) getFileInfo(_ context.Context, args json.RawMessage) (mcp.CallToolResult, error) {
	var params getFileInfoArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return mcp.CallToolResult{}, err
	}

	path, err := resolvePath(params.Path, h.allowed)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to stat path %s: %w", path, err)
	}

	kind := "file"
	if fi.IsDir() {
		kind = "directory"
	}
	info := fmt.Sprintf("path: %s\ntype: %s\nsize: %d\nmodified: %s\npermissions: %s\n",
		path, kind, fi.Size(), fi.ModTime().Format("2006-01-02T15:04:05Z07:00"), fi.Mode())
	return textResult(info), nil
}

func (h handlers) listAllowedDirectories(context.Context, json.RawMessage) (mcp.CallToolResult, error) {
	return textResult("Allowed directories:\n" + strings.Join(h.allowed, "\n")), nil
}

// readResource serves file:///{+path} template reads.
func (h handlers) readResource(_ context.Context, uri string) ([]mcp.ResourceContents, error) {
	path := strings.TrimPrefix(uri, "file://")
	validated, err := resolvePath(path, h.allowed)
	if err != nil {
		return nil, err
	}
	bs, err := os.ReadFile(validated)
	if err != nil {
		return nil, fmt.Errorf("failed to read file with path %s: %w", validated, err)
	}
	return []mcp.ResourceContents{
		{
			URI:      uri,
			MimeType: "text/plain",
			Text:     string(bs),
		},
	}, nil
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}
