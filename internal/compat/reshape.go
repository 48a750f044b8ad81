package compat

import (
	"github.com/coursekit/coursekit-backend/internal/courses"
	"github.com/coursekit/coursekit-backend/internal/sections"
)

// LegacyCourseView is the flat single-object response contract consumed by
// pre-section clients.
type LegacyCourseView struct {
	CourseID         string        `json:"courseId"`
	OwnerID          string        `json:"ownerId"`
	Title            string        `json:"title"`
	ContentType      string        `json:"type"`
	IsPublic         bool          `json:"isPublic"`
	ForkCount        int64         `json:"forkCount"`
	ForkedFrom       *string       `json:"forkedFrom,omitempty"`
	CreatedAtSeconds int64         `json:"created_at_s"`
	UpdatedAtSeconds int64         `json:"updated_at_s"`
	Content          LegacyContent `json:"content"`
}

// LegacyPage is the paginated-list variant of the legacy contract.
type LegacyPage struct {
	Data       []LegacyCourseView `json:"data"`
	Pagination courses.Pagination `json:"pagination"`
}

// ReshapeCourse serializes one course into the legacy flat shape: the
// untouched blob for a still-legacy course, the flattened tree for a
// section-based one, and empty modules otherwise. Persisted state is never
// modified.
func ReshapeCourse(course courses.Course, roots []*sections.TreeNode) (LegacyCourseView, error) {
	view := LegacyCourseView{
		CourseID:         course.CourseID,
		OwnerID:          course.OwnerID,
		Title:            course.Title,
		ContentType:      course.ContentType,
		IsPublic:         course.IsPublic,
		ForkCount:        course.ForkCount,
		ForkedFrom:       course.ForkedFrom,
		CreatedAtSeconds: course.CreatedAtSeconds,
		UpdatedAtSeconds: course.UpdatedAtSeconds,
		Content:          LegacyContent{Modules: []LegacyModule{}},
	}
	switch {
	case IsLegacyCourse(course):
		content, err := ParseLegacyBlob(course.LegacyContent)
		if err != nil {
			return LegacyCourseView{}, err
		}
		view.Content = content
	case IsSectionBased(course):
		view.Content = ContentFromTree(roots)
	}
	return view, nil
}

// ReshapeCourses is the array variant of ReshapeCourse. Courses whose blob
// fails to parse are skipped rather than failing the whole listing.
func ReshapeCourses(pairs []CourseTree) []LegacyCourseView {
	views := make([]LegacyCourseView, 0, len(pairs))
	for _, pair := range pairs {
		view, err := ReshapeCourse(pair.Course, pair.Roots)
		if err != nil {
			continue
		}
		views = append(views, view)
	}
	return views
}

// CourseTree pairs a course with its loaded section tree for list reshaping.
type CourseTree struct {
	Course courses.Course
	Roots  []*sections.TreeNode
}

// ReshapePage reshapes one discovery page into the legacy paginated contract.
func ReshapePage(result courses.DiscoverResult, trees map[string][]*sections.TreeNode) LegacyPage {
	pairs := make([]CourseTree, 0, len(result.Data))
	for _, course := range result.Data {
		pairs = append(pairs, CourseTree{Course: course, Roots: trees[course.CourseID]})
	}
	return LegacyPage{
		Data:       ReshapeCourses(pairs),
		Pagination: result.Pagination,
	}
}
