package lsp

import (
	"path/filepath"
	"strings"
)

// DefaultServer is the executable looked up on PATH when no server
// command is configured.
const DefaultServer = "clangd"

// languageIDs maps file extensions to LSP languageId values.
var languageIDs = map[string]string{
	".c":   "c",
	".h":   "c",
	".cc":  "cpp",
	".cpp": "cpp",
	".cxx": "cpp",
	".hh":  "cpp",
	".hpp": "cpp",
	".hxx": "cpp",
	".m":   "objective-c",
	".mm":  "objective-cpp",
	".go":  "go",
	".py":  "python",
	".rs":  "rust",
	".ts":  "typescript",
	".js":  "javascript",
}

// LanguageIDForPath infers the languageId of a file from its extension.
// Unknown extensions map to "plaintext".
func LanguageIDForPath(path string) string {
	if id, ok := languageIDs[strings.ToLower(filepath.Ext(path))]; ok {
		return id
	}
	return "plaintext"
}
