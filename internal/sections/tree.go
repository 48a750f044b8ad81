package sections

import (
	"context"
	"sort"

	"github.com/coursekit/coursekit-backend/internal/courses"
	"github.com/coursekit/coursekit-backend/internal/faults"
)

// TreeNode is one section with its nested children, ordered by sort order.
type TreeNode struct {
	Section  Section
	Children []*TreeNode
}

// Hierarchy loads the full section tree of a course. Private courses are
// readable by their owner only; requester may be nil for anonymous reads.
func (s *Service) Hierarchy(ctx context.Context, courseID courses.CourseID, requester *courses.UserID) (courses.Course, []*TreeNode, error) {
	course, err := s.loadCourse(ctx, s.db, opHierarchy, courseID.String())
	if err != nil {
		return courses.Course{}, nil, err
	}
	if !course.IsPublic {
		if requester == nil || !course.IsOwnedBy(*requester) {
			return courses.Course{}, nil, faults.New(faults.KindForbidden, opHierarchy, "private_course", nil)
		}
	}

	var flat []Section
	if err := s.db.WithContext(ctx).
		Where("course_id = ?", courseID.String()).
		Order("path ASC").
		Find(&flat).Error; err != nil {
		return courses.Course{}, nil, faults.Internal(opHierarchy, "section_query_failed", err)
	}

	return course, BuildTree(flat), nil
}

// BuildTree assembles a nested tree from the flat section table. Sections
// whose parent is missing from the slice are treated as roots so a partial
// read never drops nodes silently.
func BuildTree(flat []Section) []*TreeNode {
	nodes := make(map[string]*TreeNode, len(flat))
	for _, section := range flat {
		nodes[section.SectionID] = &TreeNode{Section: section}
	}

	var roots []*TreeNode
	for _, section := range flat {
		node := nodes[section.SectionID]
		if section.ParentID != nil {
			if parent, ok := nodes[*section.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	var sortLevel func(nodes []*TreeNode)
	sortLevel = func(nodes []*TreeNode) {
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].Section.SortOrder < nodes[j].Section.SortOrder
		})
		for _, node := range nodes {
			sortLevel(node.Children)
		}
	}
	sortLevel(roots)
	return roots
}
