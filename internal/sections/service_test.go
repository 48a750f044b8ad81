package sections

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/coursekit/coursekit-backend/internal/courses"
	"github.com/coursekit/coursekit-backend/internal/faults"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testOwner    = "user-owner"
	testStranger = "user-stranger"
)

type sequenceIDProvider struct {
	counter int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.counter++
	return fmt.Sprintf("sec-%04d", p.counter), nil
}

func openSectionTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&courses.Course{}, &Section{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func seedCourse(t *testing.T, db *gorm.DB, course courses.Course) courses.Course {
	t.Helper()
	if course.OwnerID == "" {
		course.OwnerID = testOwner
	}
	if course.Title == "" {
		course.Title = "Seeded Course"
	}
	if course.ContentType == "" {
		course.ContentType = string(courses.ContentTypeCourse)
	}
	if course.Structure == "" {
		course.Structure = string(courses.StructureNested)
	}
	if course.MaxNestingDepth == 0 {
		course.MaxNestingDepth = courses.DefaultMaxNestingDepth
	}
	if course.Architecture == "" {
		course.Architecture = string(courses.ArchitectureEmpty)
	}
	if err := db.Create(&course).Error; err != nil {
		t.Fatalf("failed to seed course %s: %v", course.CourseID, err)
	}
	return course
}

func mustCourseID(t *testing.T, raw string) courses.CourseID {
	t.Helper()
	courseID, err := courses.NewCourseID(raw)
	if err != nil {
		t.Fatalf("invalid course id %q: %v", raw, err)
	}
	return courseID
}

func mustSectionID(t *testing.T, raw string) SectionID {
	t.Helper()
	sectionID, err := NewSectionID(raw)
	if err != nil {
		t.Fatalf("invalid section id %q: %v", raw, err)
	}
	return sectionID
}

func mustCreateSection(t *testing.T, service *Service, courseID courses.CourseID, parentID *SectionID, title string) Section {
	t.Helper()
	section, err := service.CreateSection(context.Background(), courseID, parentID, title, nil, testOwner)
	if err != nil {
		t.Fatalf("failed to create section %q: %v", title, err)
	}
	return section
}

func sectionIDRef(section Section) *SectionID {
	id := SectionID(section.SectionID)
	return &id
}

func loadSectionRow(t *testing.T, db *gorm.DB, sectionID string) Section {
	t.Helper()
	var row Section
	if err := db.Where("section_id = ?", sectionID).Take(&row).Error; err != nil {
		t.Fatalf("failed to load section %s: %v", sectionID, err)
	}
	return row
}

func TestCreateSectionAssignsPathLevelAndOrder(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	courseID := mustCourseID(t, "course-1")

	first := mustCreateSection(t, service, courseID, nil, "Intro")
	if first.Path != first.SectionID {
		t.Fatalf("root path %q does not equal id %q", first.Path, first.SectionID)
	}
	if first.Level != 0 || first.SortOrder != 0 {
		t.Fatalf("unexpected root placement level=%d order=%d", first.Level, first.SortOrder)
	}
	if first.PrimaryFormat != string(ContentFormatMarkdown) {
		t.Fatalf("expected markdown default, got %q", first.PrimaryFormat)
	}

	second := mustCreateSection(t, service, courseID, nil, "Basics")
	if second.SortOrder != 1 {
		t.Fatalf("expected second root at order 1, got %d", second.SortOrder)
	}

	child := mustCreateSection(t, service, courseID, sectionIDRef(first), "Details")
	if child.Path != first.Path+"."+child.SectionID {
		t.Fatalf("unexpected child path %q", child.Path)
	}
	if child.Level != 1 || child.SortOrder != 0 {
		t.Fatalf("unexpected child placement level=%d order=%d", child.Level, child.SortOrder)
	}
	if child.ParentID == nil || *child.ParentID != first.SectionID {
		t.Fatalf("child parent reference not set")
	}
}

func TestCreateSectionFlipsEmptyArchitecture(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	courseID := mustCourseID(t, "course-1")

	mustCreateSection(t, service, courseID, nil, "Intro")

	var course courses.Course
	if err := db.Where("course_id = ?", "course-1").Take(&course).Error; err != nil {
		t.Fatalf("failed to reload course: %v", err)
	}
	if courses.Architecture(course.Architecture) != courses.ArchitectureSectionBased {
		t.Fatalf("expected section-based architecture, got %q", course.Architecture)
	}
}

func TestCreateSectionRejectsLegacyCourse(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{
		CourseID:      "course-legacy",
		Architecture:  string(courses.ArchitectureLegacy),
		LegacyContent: `{"modules":[{"title":"M1","items":[]}]}`,
	})

	_, err := service.CreateSection(context.Background(), mustCourseID(t, "course-legacy"), nil, "Intro", nil, testOwner)
	if !faults.Is(err, faults.KindStructureViolation) {
		t.Fatalf("expected structure violation, got %v", err)
	}
}

func TestCreateSectionEnforcesMaxDepth(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1", MaxNestingDepth: 2})
	courseID := mustCourseID(t, "course-1")

	root := mustCreateSection(t, service, courseID, nil, "Level 0")
	child := mustCreateSection(t, service, courseID, sectionIDRef(root), "Level 1")
	grandchild := mustCreateSection(t, service, courseID, sectionIDRef(child), "Level 2")

	_, err := service.CreateSection(context.Background(), courseID, sectionIDRef(grandchild), "Level 3", nil, testOwner)
	if !faults.Is(err, faults.KindDepthExceeded) {
		t.Fatalf("expected depth exceeded, got %v", err)
	}
}

func TestCreateSectionEnforcesFlatStructure(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-flat", Structure: string(courses.StructureFlat)})
	courseID := mustCourseID(t, "course-flat")

	root := mustCreateSection(t, service, courseID, nil, "Module")
	child := mustCreateSection(t, service, courseID, sectionIDRef(root), "Lesson")

	_, err := service.CreateSection(context.Background(), courseID, sectionIDRef(child), "Too Deep", nil, testOwner)
	if !faults.Is(err, faults.KindStructureViolation) {
		t.Fatalf("expected structure violation, got %v", err)
	}
}

func TestCreateSectionRequiresOwnership(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})

	_, err := service.CreateSection(context.Background(), mustCourseID(t, "course-1"), nil, "Intro", nil, testStranger)
	if !faults.Is(err, faults.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreateSectionUnknownCourse(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)

	_, err := service.CreateSection(context.Background(), mustCourseID(t, "course-missing"), nil, "Intro", nil, testOwner)
	if !faults.Is(err, faults.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateSectionAppliesPartialChanges(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	courseID := mustCourseID(t, "course-1")
	section := mustCreateSection(t, service, courseID, nil, "Before")

	newTitle := "After"
	updated, err := service.UpdateSection(context.Background(), mustSectionID(t, section.SectionID), UpdateRequest{Title: &newTitle}, testOwner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Title != "After" {
		t.Fatalf("title not updated, got %q", updated.Title)
	}
	if updated.Path != section.Path || updated.SortOrder != section.SortOrder {
		t.Fatalf("placement changed during content update")
	}

	updated, err = service.UpdateSection(context.Background(), mustSectionID(t, section.SectionID), UpdateRequest{
		Content: &ContentInput{PrimaryFormat: "html", Body: "<p>hello</p>"},
	}, testOwner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.PrimaryFormat != "html" || updated.Body != "<p>hello</p>" {
		t.Fatalf("content not updated: %+v", updated)
	}
	if updated.Title != "After" {
		t.Fatalf("title lost during content update")
	}
}

func TestUpdateSectionRejectsInvalidFormat(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	section := mustCreateSection(t, service, mustCourseID(t, "course-1"), nil, "Intro")

	_, err := service.UpdateSection(context.Background(), mustSectionID(t, section.SectionID), UpdateRequest{
		Content: &ContentInput{PrimaryFormat: "docx", Body: "x"},
	}, testOwner)
	if !faults.Is(err, faults.KindInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUpdateSectionRequiresOwnership(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	section := mustCreateSection(t, service, mustCourseID(t, "course-1"), nil, "Intro")

	title := "Hijacked"
	_, err := service.UpdateSection(context.Background(), mustSectionID(t, section.SectionID), UpdateRequest{Title: &title}, testStranger)
	if !faults.Is(err, faults.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestMoveSectionReparentsSubtree(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	courseID := mustCourseID(t, "course-1")

	rootA := mustCreateSection(t, service, courseID, nil, "A")
	rootX := mustCreateSection(t, service, courseID, nil, "X")
	childB := mustCreateSection(t, service, courseID, sectionIDRef(rootA), "B")
	grandC := mustCreateSection(t, service, courseID, sectionIDRef(childB), "C")

	moved, err := service.MoveSection(context.Background(), mustSectionID(t, childB.SectionID), sectionIDRef(rootX), nil, testOwner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved.Path != rootX.Path+"."+childB.SectionID {
		t.Fatalf("unexpected moved path %q", moved.Path)
	}
	if moved.Level != 1 {
		t.Fatalf("unexpected moved level %d", moved.Level)
	}
	if moved.ParentID == nil || *moved.ParentID != rootX.SectionID {
		t.Fatalf("parent reference not updated")
	}

	descendant := loadSectionRow(t, db, grandC.SectionID)
	if descendant.Path != moved.Path+"."+grandC.SectionID {
		t.Fatalf("descendant path not rebased: %q", descendant.Path)
	}
	if descendant.Level != 2 {
		t.Fatalf("descendant level not recomputed: %d", descendant.Level)
	}
	if descendant.ParentID == nil || *descendant.ParentID != childB.SectionID {
		t.Fatalf("descendant parent must not change")
	}
}

func TestMoveSectionDetectsCycle(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	courseID := mustCourseID(t, "course-1")

	rootA := mustCreateSection(t, service, courseID, nil, "A")
	childB := mustCreateSection(t, service, courseID, sectionIDRef(rootA), "B")
	grandC := mustCreateSection(t, service, courseID, sectionIDRef(childB), "C")

	_, err := service.MoveSection(context.Background(), mustSectionID(t, rootA.SectionID), sectionIDRef(grandC), nil, testOwner)
	if !faults.Is(err, faults.KindCycleDetected) {
		t.Fatalf("expected cycle detected, got %v", err)
	}

	unchanged := loadSectionRow(t, db, grandC.SectionID)
	if unchanged.Path != grandC.Path {
		t.Fatalf("rejected move must not modify paths")
	}
}

func TestMoveSectionRejectsSelfParent(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	section := mustCreateSection(t, service, mustCourseID(t, "course-1"), nil, "A")

	_, err := service.MoveSection(context.Background(), mustSectionID(t, section.SectionID), sectionIDRef(section), nil, testOwner)
	if !faults.Is(err, faults.KindInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestMoveSectionRejectsCrossCourseParent(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	seedCourse(t, db, courses.Course{CourseID: "course-2"})

	section := mustCreateSection(t, service, mustCourseID(t, "course-1"), nil, "A")
	foreign := mustCreateSection(t, service, mustCourseID(t, "course-2"), nil, "Z")

	_, err := service.MoveSection(context.Background(), mustSectionID(t, section.SectionID), sectionIDRef(foreign), nil, testOwner)
	if !faults.Is(err, faults.KindCrossCourseViolation) {
		t.Fatalf("expected cross course violation, got %v", err)
	}
}

func TestMoveSectionHonorsRequestedOrder(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	courseID := mustCourseID(t, "course-1")

	r0 := mustCreateSection(t, service, courseID, nil, "First")
	r1 := mustCreateSection(t, service, courseID, nil, "Second")
	r2 := mustCreateSection(t, service, courseID, nil, "Third")

	front := 0
	moved, err := service.MoveSection(context.Background(), mustSectionID(t, r2.SectionID), nil, &front, testOwner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved.SortOrder != 0 {
		t.Fatalf("expected moved section at order 0, got %d", moved.SortOrder)
	}
	if order := loadSectionRow(t, db, r0.SectionID).SortOrder; order != 1 {
		t.Fatalf("expected first section shifted to order 1, got %d", order)
	}
	if order := loadSectionRow(t, db, r1.SectionID).SortOrder; order != 2 {
		t.Fatalf("expected second section shifted to order 2, got %d", order)
	}
}

func TestMoveSectionEnforcesSubtreeDepth(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1", MaxNestingDepth: 2})
	courseID := mustCourseID(t, "course-1")

	rootA := mustCreateSection(t, service, courseID, nil, "A")
	mustCreateSection(t, service, courseID, sectionIDRef(rootA), "B")
	rootX := mustCreateSection(t, service, courseID, nil, "X")
	childY := mustCreateSection(t, service, courseID, sectionIDRef(rootX), "Y")

	_, err := service.MoveSection(context.Background(), mustSectionID(t, rootA.SectionID), sectionIDRef(childY), nil, testOwner)
	if !faults.Is(err, faults.KindDepthExceeded) {
		t.Fatalf("expected depth exceeded, got %v", err)
	}
}

func TestMoveSectionEnforcesFlatStructure(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-flat", Structure: string(courses.StructureFlat), MaxNestingDepth: 5})
	courseID := mustCourseID(t, "course-flat")

	rootA := mustCreateSection(t, service, courseID, nil, "A")
	mustCreateSection(t, service, courseID, sectionIDRef(rootA), "B")
	rootX := mustCreateSection(t, service, courseID, nil, "X")

	_, err := service.MoveSection(context.Background(), mustSectionID(t, rootA.SectionID), sectionIDRef(rootX), nil, testOwner)
	if !faults.Is(err, faults.KindStructureViolation) {
		t.Fatalf("expected structure violation, got %v", err)
	}
}

func TestDeleteSectionCascadesAndRenormalizes(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	courseID := mustCourseID(t, "course-1")

	r0 := mustCreateSection(t, service, courseID, nil, "First")
	r1 := mustCreateSection(t, service, courseID, nil, "Second")
	r2 := mustCreateSection(t, service, courseID, nil, "Third")
	child := mustCreateSection(t, service, courseID, sectionIDRef(r0), "Child")
	grand := mustCreateSection(t, service, courseID, sectionIDRef(child), "Grand")

	if err := service.DeleteSection(context.Background(), mustSectionID(t, r0.SectionID), testOwner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var remaining int64
	if err := db.Model(&Section{}).Where("course_id = ?", "course-1").Count(&remaining).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected cascade to remove subtree, %d rows remain", remaining)
	}
	for _, gone := range []string{r0.SectionID, child.SectionID, grand.SectionID} {
		var count int64
		db.Model(&Section{}).Where("section_id = ?", gone).Count(&count)
		if count != 0 {
			t.Fatalf("section %s survived cascade", gone)
		}
	}
	if order := loadSectionRow(t, db, r1.SectionID).SortOrder; order != 0 {
		t.Fatalf("expected surviving sibling renormalized to 0, got %d", order)
	}
	if order := loadSectionRow(t, db, r2.SectionID).SortOrder; order != 1 {
		t.Fatalf("expected surviving sibling renormalized to 1, got %d", order)
	}
}

func TestDeleteSectionRequiresOwnership(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	section := mustCreateSection(t, service, mustCourseID(t, "course-1"), nil, "Intro")

	err := service.DeleteSection(context.Background(), mustSectionID(t, section.SectionID), testStranger)
	if !faults.Is(err, faults.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestBulkDeleteHandlesOverlappingSubtrees(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	courseID := mustCourseID(t, "course-1")

	root := mustCreateSection(t, service, courseID, nil, "Root")
	child := mustCreateSection(t, service, courseID, sectionIDRef(root), "Child")
	keeper := mustCreateSection(t, service, courseID, nil, "Keeper")

	err := service.BulkOperate(context.Background(), []SectionID{
		mustSectionID(t, root.SectionID),
		mustSectionID(t, child.SectionID),
	}, BulkOperationDelete, BulkParams{}, testOwner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var remaining []Section
	if err := db.Where("course_id = ?", "course-1").Find(&remaining).Error; err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].SectionID != keeper.SectionID {
		t.Fatalf("expected only keeper to survive, got %+v", remaining)
	}
	if remaining[0].SortOrder != 0 {
		t.Fatalf("expected keeper renormalized to order 0, got %d", remaining[0].SortOrder)
	}
}

func TestBulkReorderAppliesDenseOrder(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	courseID := mustCourseID(t, "course-1")

	r0 := mustCreateSection(t, service, courseID, nil, "First")
	r1 := mustCreateSection(t, service, courseID, nil, "Second")
	r2 := mustCreateSection(t, service, courseID, nil, "Third")

	err := service.BulkOperate(context.Background(), []SectionID{
		mustSectionID(t, r0.SectionID),
		mustSectionID(t, r1.SectionID),
		mustSectionID(t, r2.SectionID),
	}, BulkOperationReorder, BulkParams{Orders: map[string]int{
		r0.SectionID: 5,
		r1.SectionID: 1,
		r2.SectionID: 3,
	}}, testOwner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order := loadSectionRow(t, db, r1.SectionID).SortOrder; order != 0 {
		t.Fatalf("expected order 0, got %d", order)
	}
	if order := loadSectionRow(t, db, r2.SectionID).SortOrder; order != 1 {
		t.Fatalf("expected order 1, got %d", order)
	}
	if order := loadSectionRow(t, db, r0.SectionID).SortOrder; order != 2 {
		t.Fatalf("expected order 2, got %d", order)
	}
}

func TestBulkReorderRequiresOrderPerSection(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	courseID := mustCourseID(t, "course-1")

	r0 := mustCreateSection(t, service, courseID, nil, "First")
	r1 := mustCreateSection(t, service, courseID, nil, "Second")

	err := service.BulkOperate(context.Background(), []SectionID{
		mustSectionID(t, r0.SectionID),
		mustSectionID(t, r1.SectionID),
	}, BulkOperationReorder, BulkParams{Orders: map[string]int{r0.SectionID: 0}}, testOwner)
	if !faults.Is(err, faults.KindInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestBulkMoveReparentsSelection(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	courseID := mustCourseID(t, "course-1")

	target := mustCreateSection(t, service, courseID, nil, "Target")
	a := mustCreateSection(t, service, courseID, nil, "A")
	b := mustCreateSection(t, service, courseID, nil, "B")

	targetID := mustSectionID(t, target.SectionID)
	err := service.BulkOperate(context.Background(), []SectionID{
		mustSectionID(t, a.SectionID),
		mustSectionID(t, b.SectionID),
	}, BulkOperationMove, BulkParams{NewParentID: &targetID}, testOwner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	movedA := loadSectionRow(t, db, a.SectionID)
	movedB := loadSectionRow(t, db, b.SectionID)
	if movedA.ParentID == nil || *movedA.ParentID != target.SectionID {
		t.Fatalf("section A not reparented")
	}
	if movedB.ParentID == nil || *movedB.ParentID != target.SectionID {
		t.Fatalf("section B not reparented")
	}
	if movedA.Level != 1 || movedB.Level != 1 {
		t.Fatalf("levels not recomputed: %d, %d", movedA.Level, movedB.Level)
	}
	orders := map[int]bool{movedA.SortOrder: true, movedB.SortOrder: true}
	if !orders[0] || !orders[1] {
		t.Fatalf("expected dense orders under new parent, got %d and %d", movedA.SortOrder, movedB.SortOrder)
	}
}

func TestBulkRejectsMixedCourses(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1"})
	seedCourse(t, db, courses.Course{CourseID: "course-2"})

	a := mustCreateSection(t, service, mustCourseID(t, "course-1"), nil, "A")
	z := mustCreateSection(t, service, mustCourseID(t, "course-2"), nil, "Z")

	err := service.BulkOperate(context.Background(), []SectionID{
		mustSectionID(t, a.SectionID),
		mustSectionID(t, z.SectionID),
	}, BulkOperationDelete, BulkParams{}, testOwner)
	if !faults.Is(err, faults.KindCrossCourseViolation) {
		t.Fatalf("expected cross course violation, got %v", err)
	}

	var remaining int64
	db.Model(&Section{}).Count(&remaining)
	if remaining != 2 {
		t.Fatalf("rejected bulk operation must leave no side effects, %d rows remain", remaining)
	}
}

func TestHierarchyHidesPrivateCourses(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-private", IsPublic: false})
	courseID := mustCourseID(t, "course-private")
	mustCreateSection(t, service, courseID, nil, "Hidden")

	_, _, err := service.Hierarchy(context.Background(), courseID, nil)
	if !faults.Is(err, faults.KindForbidden) {
		t.Fatalf("expected forbidden for anonymous read, got %v", err)
	}

	stranger := courses.UserID(testStranger)
	_, _, err = service.Hierarchy(context.Background(), courseID, &stranger)
	if !faults.Is(err, faults.KindForbidden) {
		t.Fatalf("expected forbidden for non-owner read, got %v", err)
	}

	owner := courses.UserID(testOwner)
	_, roots, err := service.Hierarchy(context.Background(), courseID, &owner)
	if err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	if len(roots) != 1 || roots[0].Section.Title != "Hidden" {
		t.Fatalf("unexpected tree for owner: %+v", roots)
	}
}

func TestHierarchyReturnsOrderedTree(t *testing.T) {
	db := openSectionTestDatabase(t)
	service := newTestService(t, db)
	seedCourse(t, db, courses.Course{CourseID: "course-1", IsPublic: true})
	courseID := mustCourseID(t, "course-1")

	first := mustCreateSection(t, service, courseID, nil, "First")
	mustCreateSection(t, service, courseID, nil, "Second")
	mustCreateSection(t, service, courseID, sectionIDRef(first), "Nested")

	course, roots, err := service.Hierarchy(context.Background(), courseID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if course.CourseID != "course-1" {
		t.Fatalf("unexpected course %s", course.CourseID)
	}
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(roots))
	}
	if roots[0].Section.Title != "First" || roots[1].Section.Title != "Second" {
		t.Fatalf("roots out of order: %s, %s", roots[0].Section.Title, roots[1].Section.Title)
	}
	if len(roots[0].Children) != 1 || roots[0].Children[0].Section.Title != "Nested" {
		t.Fatalf("nested child missing")
	}
}
