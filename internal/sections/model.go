package sections

import (
	"errors"
	"fmt"
	"strings"
)

// ContentFormat enumerates the allow-listed section body encodings.
type ContentFormat string

const (
	ContentFormatMarkdown ContentFormat = "markdown"
	ContentFormatHTML     ContentFormat = "html"
	ContentFormatText     ContentFormat = "text"
)

// BulkOperation enumerates the supported bulk dispatch targets.
type BulkOperation string

const (
	BulkOperationDelete  BulkOperation = "delete"
	BulkOperationReorder BulkOperation = "reorder"
	BulkOperationMove    BulkOperation = "move"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidSectionID indicates that a section identifier is empty or exceeds storage bounds.
	ErrInvalidSectionID = errors.New("sections: invalid section id")
	// ErrInvalidTitle indicates that a section title is empty after trimming.
	ErrInvalidTitle = errors.New("sections: invalid title")
	// ErrInvalidContentFormat indicates a body encoding outside the allow-list.
	ErrInvalidContentFormat = errors.New("sections: invalid content format")
	// ErrInvalidBulkOperation indicates an operation outside {delete, reorder, move}.
	ErrInvalidBulkOperation = errors.New("sections: invalid bulk operation")
)

// SectionID represents a validated section identifier. Identifiers must not
// contain the path separator because paths are dot-joined id sequences.
type SectionID string

// NewSectionID validates raw input and returns a SectionID.
func NewSectionID(rawInput string) (SectionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSectionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSectionID, maxIdentifierLength)
	}
	if strings.Contains(trimmed, pathSeparator) {
		return "", fmt.Errorf("%w: contains %q", ErrInvalidSectionID, pathSeparator)
	}
	return SectionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SectionID) String() string {
	return string(id)
}

// ParseContentFormat validates raw input against the allow-list.
func ParseContentFormat(rawInput string) (ContentFormat, error) {
	switch ContentFormat(strings.ToLower(strings.TrimSpace(rawInput))) {
	case ContentFormatMarkdown:
		return ContentFormatMarkdown, nil
	case ContentFormatHTML:
		return ContentFormatHTML, nil
	case ContentFormatText:
		return ContentFormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidContentFormat, rawInput)
	}
}

// ParseBulkOperation validates raw input against {delete, reorder, move}.
func ParseBulkOperation(rawInput string) (BulkOperation, error) {
	switch BulkOperation(strings.ToLower(strings.TrimSpace(rawInput))) {
	case BulkOperationDelete:
		return BulkOperationDelete, nil
	case BulkOperationReorder:
		return BulkOperationReorder, nil
	case BulkOperationMove:
		return BulkOperationMove, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBulkOperation, rawInput)
	}
}

// Section models one node of a course outline tree. All nodes live in one
// flat table keyed by id with explicit parent references; ancestry is encoded
// in the materialized path so descendant lookups are a prefix match.
type Section struct {
	SectionID        string  `gorm:"column:section_id;primaryKey;size:190;not null"`
	CourseID         string  `gorm:"column:course_id;size:190;not null;index:idx_sections_course_parent,priority:1"`
	ParentID         *string `gorm:"column:parent_id;size:190;index:idx_sections_course_parent,priority:2"`
	Path             string  `gorm:"column:path;type:text;not null;index:idx_sections_path"`
	Level            int     `gorm:"column:level;not null"`
	SortOrder        int     `gorm:"column:sort_order;not null"`
	Title            string  `gorm:"column:title;size:512;not null"`
	PrimaryFormat    string  `gorm:"column:primary_format;size:16;not null;default:'markdown'"`
	Body             string  `gorm:"column:body;type:text;not null;default:''"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Section) TableName() string {
	return "sections"
}
