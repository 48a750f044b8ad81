package sections

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const pathSeparator = "."

var (
	// ErrPathMismatch indicates a descendant path that does not start with the moved section's old path.
	ErrPathMismatch = errors.New("sections: descendant path does not extend moved path")
)

// ComputeInsertionPath returns the materialized path and level for a new
// section. An empty parentPath means root insertion.
func ComputeInsertionPath(parentPath string, newID SectionID) (string, int) {
	if parentPath == "" {
		return newID.String(), 0
	}
	path := parentPath + pathSeparator + newID.String()
	return path, Level(path)
}

// Level returns the depth encoded by a materialized path: segment count
// minus one, so a root section is level 0.
func Level(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, pathSeparator)
}

// PathUpdate describes the recomputed placement of one section after a move.
type PathUpdate struct {
	SectionID string
	Path      string
	Level     int
}

// ComputeReparentPaths recomputes paths and levels for a moved section and
// its full descendant set. newParentPath empty means the section becomes a
// root. The returned batch covers the moved section first, then every
// descendant; callers must persist it atomically.
func ComputeReparentPaths(moved Section, descendants []Section, newParentPath string) ([]PathUpdate, error) {
	movedID, err := NewSectionID(moved.SectionID)
	if err != nil {
		return nil, err
	}
	newPath, newLevel := ComputeInsertionPath(newParentPath, movedID)

	updates := make([]PathUpdate, 0, len(descendants)+1)
	updates = append(updates, PathUpdate{SectionID: moved.SectionID, Path: newPath, Level: newLevel})

	oldPrefix := moved.Path + pathSeparator
	for _, descendant := range descendants {
		if !strings.HasPrefix(descendant.Path, oldPrefix) {
			return nil, fmt.Errorf("%w: %q under %q", ErrPathMismatch, descendant.Path, moved.Path)
		}
		rebased := newPath + pathSeparator + strings.TrimPrefix(descendant.Path, oldPrefix)
		updates = append(updates, PathUpdate{
			SectionID: descendant.SectionID,
			Path:      rebased,
			Level:     Level(rebased),
		})
	}
	return updates, nil
}

// OrderUpdate describes the reassigned order of one sibling.
type OrderUpdate struct {
	SectionID string
	SortOrder int
}

// NormalizeOrder reassigns sibling order to a dense 0..n-1 sequence
// preserving relative order, with section id as a stable tiebreaker.
// Applying it twice yields the same assignment as applying it once.
func NormalizeOrder(siblings []Section) []OrderUpdate {
	sorted := make([]Section, len(siblings))
	copy(sorted, siblings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SortOrder != sorted[j].SortOrder {
			return sorted[i].SortOrder < sorted[j].SortOrder
		}
		return sorted[i].SectionID < sorted[j].SectionID
	})

	updates := make([]OrderUpdate, 0, len(sorted))
	for index, sibling := range sorted {
		updates = append(updates, OrderUpdate{SectionID: sibling.SectionID, SortOrder: index})
	}
	return updates
}
