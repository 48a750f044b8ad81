package sections

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coursekit/coursekit-backend/internal/courses"
	"github.com/coursekit/coursekit-backend/internal/faults"
	"gorm.io/gorm"
)

const (
	opValidateCreation  = "sections.validate_creation"
	opValidateDepth     = "sections.validate_depth"
	opValidateStructure = "sections.validate_structure"
	opValidateMove      = "sections.validate_move"
	opValidateBulk      = "sections.validate_bulk"
)

var errSelfParent = errors.New("sections: section cannot be its own parent")

// Validator checks tree invariants against persisted state before any
// mutation is committed. Every method is read-only.
type Validator struct {
	db *gorm.DB
}

// NewValidator wraps a database handle, which may be a transaction.
func NewValidator(db *gorm.DB) *Validator {
	return &Validator{db: db}
}

func (v *Validator) loadCourse(ctx context.Context, operation string, courseID courses.CourseID) (courses.Course, error) {
	var course courses.Course
	err := v.db.WithContext(ctx).
		Where("course_id = ?", courseID.String()).
		Take(&course).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return courses.Course{}, faults.New(faults.KindNotFound, operation, "course_not_found", err)
	}
	if err != nil {
		return courses.Course{}, faults.Internal(operation, "course_select_failed", err)
	}
	return course, nil
}

func (v *Validator) loadSection(ctx context.Context, operation, reason string, sectionID SectionID) (Section, error) {
	var section Section
	err := v.db.WithContext(ctx).
		Where("section_id = ?", sectionID.String()).
		Take(&section).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Section{}, faults.New(faults.KindNotFound, operation, reason, err)
	}
	if err != nil {
		return Section{}, faults.Internal(operation, "section_select_failed", err)
	}
	return section, nil
}

// ValidateCreation checks that a new section may be inserted: the course
// exists and is owned by the requester, the title is non-empty, the content
// format (when supplied) is allow-listed, and the designated parent exists
// in the same course. It returns the loaded course and parent for reuse.
func (v *Validator) ValidateCreation(ctx context.Context, courseID courses.CourseID, parentID *SectionID, title, contentFormat string, requester courses.UserID) (courses.Course, *Section, error) {
	course, err := v.loadCourse(ctx, opValidateCreation, courseID)
	if err != nil {
		return courses.Course{}, nil, err
	}
	if !course.IsOwnedBy(requester) {
		return courses.Course{}, nil, faults.New(faults.KindForbidden, opValidateCreation, "not_owner", nil)
	}
	if strings.TrimSpace(title) == "" {
		return courses.Course{}, nil, faults.New(faults.KindInvalidInput, opValidateCreation, "empty_title", ErrInvalidTitle)
	}
	if contentFormat != "" {
		if _, err := ParseContentFormat(contentFormat); err != nil {
			return courses.Course{}, nil, faults.New(faults.KindInvalidInput, opValidateCreation, "invalid_format", err)
		}
	}

	if parentID == nil {
		return course, nil, nil
	}
	parent, err := v.loadSection(ctx, opValidateCreation, "parent_not_found", *parentID)
	if err != nil {
		return courses.Course{}, nil, err
	}
	if parent.CourseID != courseID.String() {
		return courses.Course{}, nil, faults.New(faults.KindNotFound, opValidateCreation, "parent_not_found",
			fmt.Errorf("parent %s belongs to course %s", parent.SectionID, parent.CourseID))
	}
	return course, &parent, nil
}

// ValidateNestingDepth rejects insertions that would exceed maxDepth. Root
// insertion always succeeds.
func (v *Validator) ValidateNestingDepth(ctx context.Context, courseID courses.CourseID, parentID *SectionID, maxDepth int) error {
	if parentID == nil {
		return nil
	}
	parent, err := v.loadSection(ctx, opValidateDepth, "parent_not_found", *parentID)
	if err != nil {
		return err
	}
	if parent.CourseID != courseID.String() {
		return faults.New(faults.KindNotFound, opValidateDepth, "parent_not_found", nil)
	}
	if parent.Level+1 > maxDepth {
		return faults.New(faults.KindDepthExceeded, opValidateDepth, "max_depth_exceeded",
			fmt.Errorf("level %d exceeds max depth %d", parent.Level+1, maxDepth))
	}
	return nil
}

// ValidateStructureConstraint rejects nesting under a non-root parent when
// the course structure mode is flat.
func (v *Validator) ValidateStructureConstraint(ctx context.Context, courseID courses.CourseID, parentID *SectionID) error {
	if parentID == nil {
		return nil
	}
	course, err := v.loadCourse(ctx, opValidateStructure, courseID)
	if err != nil {
		return err
	}
	if courses.Structure(course.Structure) != courses.StructureFlat {
		return nil
	}
	parent, err := v.loadSection(ctx, opValidateStructure, "parent_not_found", *parentID)
	if err != nil {
		return err
	}
	if parent.Level >= 1 {
		return faults.New(faults.KindStructureViolation, opValidateStructure, "flat_nesting",
			errors.New("flat courses permit at most one level of nesting"))
	}
	return nil
}

// ValidateMove checks a reparent request: the section and new parent must
// exist in the same course, the requester must own the course, the move must
// not self-parent or create a cycle, and the order (when supplied) must be
// non-negative. It returns the section, its descendants, and the new parent.
func (v *Validator) ValidateMove(ctx context.Context, sectionID SectionID, newParentID *SectionID, newOrder *int, requester courses.UserID) (Section, []Section, *Section, error) {
	section, err := v.loadSection(ctx, opValidateMove, "section_not_found", sectionID)
	if err != nil {
		return Section{}, nil, nil, err
	}
	courseID, err := courses.NewCourseID(section.CourseID)
	if err != nil {
		return Section{}, nil, nil, faults.Internal(opValidateMove, "corrupt_course_id", err)
	}
	course, err := v.loadCourse(ctx, opValidateMove, courseID)
	if err != nil {
		return Section{}, nil, nil, err
	}
	if !course.IsOwnedBy(requester) {
		return Section{}, nil, nil, faults.New(faults.KindForbidden, opValidateMove, "not_owner", nil)
	}
	if newOrder != nil && *newOrder < 0 {
		return Section{}, nil, nil, faults.New(faults.KindInvalidInput, opValidateMove, "negative_order",
			fmt.Errorf("order %d is negative", *newOrder))
	}
	if newParentID != nil && *newParentID == sectionID {
		return Section{}, nil, nil, faults.New(faults.KindInvalidInput, opValidateMove, "self_parent", errSelfParent)
	}

	descendants, err := v.Descendants(ctx, section)
	if err != nil {
		return Section{}, nil, nil, err
	}

	if newParentID == nil {
		return section, descendants, nil, nil
	}

	newParent, err := v.loadSection(ctx, opValidateMove, "parent_not_found", *newParentID)
	if err != nil {
		return Section{}, nil, nil, err
	}
	if newParent.CourseID != section.CourseID {
		return Section{}, nil, nil, faults.New(faults.KindCrossCourseViolation, opValidateMove, "cross_course_parent",
			fmt.Errorf("parent %s belongs to course %s", newParent.SectionID, newParent.CourseID))
	}
	for _, descendant := range descendants {
		if descendant.SectionID == newParent.SectionID {
			return Section{}, nil, nil, faults.New(faults.KindCycleDetected, opValidateMove, "descendant_parent",
				fmt.Errorf("section %s is a descendant of %s", newParent.SectionID, section.SectionID))
		}
	}
	return section, descendants, &newParent, nil
}

// ValidateBulkOperation checks that all ids resolve, share one course, and
// that the requester owns that course. The resolved sections are returned in
// request order.
func (v *Validator) ValidateBulkOperation(ctx context.Context, sectionIDs []SectionID, operation BulkOperation, requester courses.UserID) ([]Section, courses.Course, error) {
	if len(sectionIDs) == 0 {
		return nil, courses.Course{}, faults.New(faults.KindInvalidInput, opValidateBulk, "empty_selection", nil)
	}
	if _, err := ParseBulkOperation(string(operation)); err != nil {
		return nil, courses.Course{}, faults.New(faults.KindInvalidInput, opValidateBulk, "invalid_operation", err)
	}

	resolved := make([]Section, 0, len(sectionIDs))
	for _, sectionID := range sectionIDs {
		section, err := v.loadSection(ctx, opValidateBulk, "section_not_found", sectionID)
		if err != nil {
			return nil, courses.Course{}, err
		}
		resolved = append(resolved, section)
	}

	courseIDRaw := resolved[0].CourseID
	for _, section := range resolved[1:] {
		if section.CourseID != courseIDRaw {
			return nil, courses.Course{}, faults.New(faults.KindCrossCourseViolation, opValidateBulk, "mixed_courses",
				fmt.Errorf("sections span courses %s and %s", courseIDRaw, section.CourseID))
		}
	}
	courseID, err := courses.NewCourseID(courseIDRaw)
	if err != nil {
		return nil, courses.Course{}, faults.Internal(opValidateBulk, "corrupt_course_id", err)
	}
	course, err := v.loadCourse(ctx, opValidateBulk, courseID)
	if err != nil {
		return nil, courses.Course{}, err
	}
	if !course.IsOwnedBy(requester) {
		return nil, courses.Course{}, faults.New(faults.KindForbidden, opValidateBulk, "not_owner", nil)
	}
	return resolved, course, nil
}

// Descendants returns every section whose path extends the given section's
// path, using the materialized-path prefix match.
func (v *Validator) Descendants(ctx context.Context, section Section) ([]Section, error) {
	var descendants []Section
	err := v.db.WithContext(ctx).
		Where("course_id = ? AND path LIKE ?", section.CourseID, section.Path+pathSeparator+"%").
		Order("path ASC").
		Find(&descendants).Error
	if err != nil {
		return nil, faults.Internal(opValidateMove, "descendant_query_failed", err)
	}
	return descendants, nil
}
