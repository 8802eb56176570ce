// Package export renders a board to HTML or, through headless Chrome, to PDF.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// Board is the read-only view of a board handed to the renderer. Lists and
// tasks are already in position order.
type Board struct {
	Title         string
	Description   string
	WorkspaceName string
	ExportedBy    string
	ExportedAt    time.Time
	Lists         []List
}

type List struct {
	Title string
	Tasks []Task
}

type Task struct {
	Title       string
	Description string
	DueDate     *time.Time
	Assignee    string
	Tags        []Tag
}

type Tag struct {
	Name  string
	Color string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing means no Chrome binary was found on PATH.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
