package filesystem

import "encoding/json"

type readFileArgs struct {
	Path string `json:"path"`
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type editOperation struct {
	// OldText is the exact text sequence to replace.
	OldText string `json:"oldText"`
	// NewText is the replacement.
	NewText string `json:"newText"`
}

type editFileArgs struct {
	Path   string          `json:"path"`
	Edits  []editOperation `json:"edits"`
	DryRun bool            `json:"dryRun,omitempty"`
}

type listDirectoryArgs struct {
	Path string `json:"path"`
}

type moveFileArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type searchFilesArgs struct {
	Path            string   `json:"path"`
	Pattern         string   `json:"pattern"`
	ExcludePatterns []string `json:"excludePatterns,omitempty"`
}

type getFileInfoArgs struct {
	Path string `json:"path"`
}

var readFileSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path of the file to read"}
  },
  "required": ["path"]
}`)

var writeFileSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path of the file to write"},
    "content": {"type": "string", "description": "Content to write"}
  },
  "required": ["path", "content"]
}`)

var editFileSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path of the file to edit"},
    "edits": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "oldText": {"type": "string", "description": "Text to search for, must match exactly"},
          "newText": {"type": "string", "description": "Text to replace with"}
        },
        "required": ["oldText", "newText"]
      }
    },
    "dryRun": {"type": "boolean", "description": "Preview changes using git-style diff format", "default": false}
  },
  "required": ["path", "edits"]
}`)

var listDirectorySchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path of the directory to list"}
  },
  "required": ["path"]
}`)

var moveFileSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "source": {"type": "string", "description": "Source path"},
    "destination": {"type": "string", "description": "Destination path"}
  },
  "required": ["source", "destination"]
}`)

var searchFilesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Directory to start the search from"},
    "pattern": {"type": "string", "description": "Case-insensitive substring to match names against"},
    "excludePatterns": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Glob patterns for paths to skip"
    }
  },
  "required": ["path", "pattern"]
}`)

var getFileInfoSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path to inspect"}
  },
  "required": ["path"]
}`)

var emptySchema = json.RawMessage(`{"type": "object", "properties": {}}`)
