// Package compat bridges the two course content representations: the legacy
// single-blob format and the section-tree format. Conversion is one-way
// (legacy to section-based); reshaping a tree back into the legacy response
// contract is read-only.
package compat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coursekit/coursekit-backend/internal/courses"
	"github.com/coursekit/coursekit-backend/internal/sections"
)

var (
	// ErrInvalidLegacyBlob indicates a legacy content blob that is not parseable.
	ErrInvalidLegacyBlob = errors.New("compat: invalid legacy content blob")
	// ErrEmptyLegacyBlob indicates a legacy blob with no modules.
	ErrEmptyLegacyBlob = errors.New("compat: legacy content blob has no modules")
)

// LegacyItem is one second-level entry of the legacy flat shape.
type LegacyItem struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Format string `json:"format,omitempty"`
}

// LegacyModule is one top-level grouping of the legacy flat shape.
type LegacyModule struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Items       []LegacyItem `json:"items"`
}

// LegacyContent is the monolithic blob layout of a legacy course.
type LegacyContent struct {
	Modules []LegacyModule `json:"modules"`
}

// IsLegacyCourse reports whether the course still holds its outline as a
// single blob. Pure predicate over the explicit architecture tag.
func IsLegacyCourse(course courses.Course) bool {
	return courses.Architecture(course.Architecture) == courses.ArchitectureLegacy
}

// IsSectionBased reports whether the course holds Section children.
func IsSectionBased(course courses.Course) bool {
	return courses.Architecture(course.Architecture) == courses.ArchitectureSectionBased
}

// ParseLegacyBlob decodes and sanity-checks a legacy content blob.
func ParseLegacyBlob(blob string) (LegacyContent, error) {
	trimmed := strings.TrimSpace(blob)
	if trimmed == "" {
		return LegacyContent{}, fmt.Errorf("%w: empty", ErrInvalidLegacyBlob)
	}
	var content LegacyContent
	if err := json.Unmarshal([]byte(trimmed), &content); err != nil {
		return LegacyContent{}, fmt.Errorf("%w: %v", ErrInvalidLegacyBlob, err)
	}
	if len(content.Modules) == 0 {
		return LegacyContent{}, ErrEmptyLegacyBlob
	}
	for index, module := range content.Modules {
		if strings.TrimSpace(module.Title) == "" {
			return LegacyContent{}, fmt.Errorf("%w: module %d has no title", ErrInvalidLegacyBlob, index)
		}
	}
	return content, nil
}

// ContentFromTree flattens a section tree into the legacy two-level shape:
// every root section becomes a module and all of its descendants become
// items in tree order. Old consumers have no notion of deeper nesting.
func ContentFromTree(roots []*sections.TreeNode) LegacyContent {
	content := LegacyContent{Modules: make([]LegacyModule, 0, len(roots))}
	for _, root := range roots {
		module := LegacyModule{
			Title:       root.Section.Title,
			Description: root.Section.Body,
			Items:       collectItems(root.Children),
		}
		content.Modules = append(content.Modules, module)
	}
	return content
}

func collectItems(nodes []*sections.TreeNode) []LegacyItem {
	items := make([]LegacyItem, 0, len(nodes))
	for _, node := range nodes {
		items = append(items, LegacyItem{
			Title:  node.Section.Title,
			Body:   node.Section.Body,
			Format: node.Section.PrimaryFormat,
		})
		items = append(items, collectItems(node.Children)...)
	}
	return items
}
