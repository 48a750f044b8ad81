package sections

import (
	"context"
	"strings"

	"github.com/coursekit/coursekit-backend/internal/faults"
	"gorm.io/gorm"
)

const opCloneTree = "sections.clone_tree"

// CloneTree copies every section of sourceCourseID into targetCourseID with
// fresh identifiers, remapping parent references and rewriting each
// materialized path segment by segment. It runs inside the caller's
// transaction; ordering by path guarantees parents are cloned before their
// descendants.
func (s *Service) CloneTree(ctx context.Context, tx *gorm.DB, sourceCourseID, targetCourseID string) error {
	var flat []Section
	if err := tx.WithContext(ctx).
		Where("course_id = ?", sourceCourseID).
		Order("path ASC").
		Find(&flat).Error; err != nil {
		return faults.Internal(opCloneTree, "section_query_failed", err)
	}

	idMap := make(map[string]string, len(flat))
	now := s.clock().UTC().Unix()
	for _, section := range flat {
		newID, err := s.idProvider.NewID()
		if err != nil {
			return faults.Internal(opCloneTree, "id_generation_failed", err)
		}
		idMap[section.SectionID] = newID

		segments := strings.Split(section.Path, pathSeparator)
		for index, segment := range segments {
			mapped, ok := idMap[segment]
			if !ok {
				return faults.Internal(opCloneTree, "dangling_path_segment", ErrPathMismatch)
			}
			segments[index] = mapped
		}

		var parentRef *string
		if section.ParentID != nil {
			mapped, ok := idMap[*section.ParentID]
			if !ok {
				return faults.Internal(opCloneTree, "dangling_parent", ErrPathMismatch)
			}
			parentRef = &mapped
		}

		clone := Section{
			SectionID:        newID,
			CourseID:         targetCourseID,
			ParentID:         parentRef,
			Path:             strings.Join(segments, pathSeparator),
			Level:            section.Level,
			SortOrder:        section.SortOrder,
			Title:            section.Title,
			PrimaryFormat:    section.PrimaryFormat,
			Body:             section.Body,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if err := tx.Create(&clone).Error; err != nil {
			return faults.Internal(opCloneTree, "section_insert_failed", err)
		}
	}
	return nil
}
