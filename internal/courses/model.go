package courses

import (
	"errors"
	"fmt"
	"strings"
)

// Architecture is the explicit representation mode of a course's content.
// It is a tagged state set at creation or conversion time, never re-derived
// from field presence.
type Architecture string

const (
	// ArchitectureEmpty marks a course with no content yet.
	ArchitectureEmpty Architecture = "empty"
	// ArchitectureLegacy marks a course holding its outline as one embedded blob.
	ArchitectureLegacy Architecture = "legacy"
	// ArchitectureSectionBased marks a course holding Section children.
	ArchitectureSectionBased Architecture = "section-based"
)

// Structure governs how deep a course outline may nest.
type Structure string

const (
	// StructureFlat restricts the outline to root sections and their direct children.
	StructureFlat Structure = "flat"
	// StructureNested permits nesting up to the course's max depth.
	StructureNested Structure = "nested"
)

// ContentType enumerates the kinds of generated learning material.
type ContentType string

const (
	ContentTypeCourse     ContentType = "course"
	ContentTypeQuiz       ContentType = "quiz"
	ContentTypeFlashcards ContentType = "flashcards"
	ContentTypeGuide      ContentType = "guide"
)

// DefaultMaxNestingDepth applies when a course is created without an explicit depth.
const DefaultMaxNestingDepth = 5

const maxIdentifierLength = 190

var (
	// ErrInvalidCourseID indicates that a course identifier is empty or exceeds storage bounds.
	ErrInvalidCourseID = errors.New("courses: invalid course id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("courses: invalid user id")
	// ErrInvalidTitle indicates that a course title is empty after trimming.
	ErrInvalidTitle = errors.New("courses: invalid title")
	// ErrInvalidContentType indicates a content type outside the allow-list.
	ErrInvalidContentType = errors.New("courses: invalid content type")
	// ErrInvalidStructure indicates a structure mode outside {flat, nested}.
	ErrInvalidStructure = errors.New("courses: invalid structure")
)

// CourseID represents a validated course identifier.
type CourseID string

// NewCourseID validates raw input and returns a CourseID.
func NewCourseID(rawInput string) (CourseID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCourseID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCourseID, maxIdentifierLength)
	}
	return CourseID(trimmed), nil
}

// String returns the underlying string identifier.
func (id CourseID) String() string {
	return string(id)
}

// UserID represents a validated requester identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ParseContentType validates raw input against the allow-list.
func ParseContentType(rawInput string) (ContentType, error) {
	switch ContentType(strings.ToLower(strings.TrimSpace(rawInput))) {
	case ContentTypeCourse:
		return ContentTypeCourse, nil
	case ContentTypeQuiz:
		return ContentTypeQuiz, nil
	case ContentTypeFlashcards:
		return ContentTypeFlashcards, nil
	case ContentTypeGuide:
		return ContentTypeGuide, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, rawInput)
	}
}

// ParseStructure validates raw input against {flat, nested}.
func ParseStructure(rawInput string) (Structure, error) {
	switch Structure(strings.ToLower(strings.TrimSpace(rawInput))) {
	case StructureFlat:
		return StructureFlat, nil
	case StructureNested:
		return StructureNested, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStructure, rawInput)
	}
}

// Course models the persisted course record.
type Course struct {
	CourseID         string  `gorm:"column:course_id;primaryKey;size:190;not null"`
	OwnerID          string  `gorm:"column:owner_id;size:190;not null;index:idx_courses_owner"`
	Title            string  `gorm:"column:title;size:512;not null"`
	ContentType      string  `gorm:"column:content_type;size:32;not null;index:idx_courses_public,priority:2"`
	Structure        string  `gorm:"column:structure;size:16;not null;default:'nested'"`
	MaxNestingDepth  int     `gorm:"column:max_nesting_depth;not null;default:5"`
	Architecture     string  `gorm:"column:architecture;size:32;not null;default:'empty'"`
	LegacyContent    string  `gorm:"column:legacy_content;type:text;not null;default:''"`
	IsPublic         bool    `gorm:"column:is_public;not null;default:false;index:idx_courses_public,priority:1"`
	ForkCount        int64   `gorm:"column:fork_count;not null;default:0"`
	ForkedFrom       *string `gorm:"column:forked_from;size:190"`
	Views            int64   `gorm:"column:views;not null;default:0"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Course) TableName() string {
	return "courses"
}

// IsOwnedBy reports whether the requester owns the course.
func (c Course) IsOwnedBy(requester UserID) bool {
	return c.OwnerID == requester.String()
}
