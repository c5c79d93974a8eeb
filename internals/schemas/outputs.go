package schemas

import (
	"path/filepath"
	"strings"
)

type FileType string

const (
	FileTypeMarkdown FileType = "markdown"
	FileTypeJSON     FileType = "json"
	FileTypeCSV      FileType = "csv"
	FileTypeText     FileType = "text"
	FileTypeHTML     FileType = "html"
	FileTypePDF      FileType = "pdf"
	FileTypeOther    FileType = "other"
)

var extToType = map[string]FileType{
	".md":   FileTypeMarkdown,
	".json": FileTypeJSON,
	".csv":  FileTypeCSV,
	".txt":  FileTypeText,
	".html": FileTypeHTML,
	".pdf":  FileTypePDF,
}

// FileTypeFromPath infers the type from the file extension. Unmapped
// extensions classify as "other".
func FileTypeFromPath(path string) FileType {
	if fileType, ok := extToType[strings.ToLower(filepath.Ext(path))]; ok {
		return fileType
	}
	return FileTypeOther
}

// IsTextual reports whether the content endpoint may return the file body as
// decoded text.
func (t FileType) IsTextual() bool {
	switch t {
	case FileTypeMarkdown, FileTypeJSON, FileTypeCSV, FileTypeText, FileTypeHTML:
		return true
	}
	return false
}

func (t FileType) MediaType() string {
	switch t {
	case FileTypeMarkdown:
		return "text/markdown"
	case FileTypeJSON:
		return "application/json"
	case FileTypeCSV:
		return "text/csv"
	case FileTypeText:
		return "text/plain"
	case FileTypeHTML:
		return "text/html"
	case FileTypePDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

type OutputFileInfo struct {
	ID        string   `json:"id"`
	Filename  string   `json:"filename"`
	Filepath  string   `json:"filepath"`
	FileType  FileType `json:"file_type"`
	FileSize  int64    `json:"file_size"`
	CreatedAt string   `json:"created_at,omitempty"`
}

type OutputFileListResponse struct {
	Files []OutputFileInfo `json:"files"`
}

type OutputFileContentResponse struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Content  *string  `json:"content"`
	FileType FileType `json:"file_type"`
}
