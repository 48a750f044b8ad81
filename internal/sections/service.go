package sections

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coursekit/coursekit-backend/internal/courses"
	"github.com/coursekit/coursekit-backend/internal/faults"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew    = "sections.service.new"
	opCreateSection = "sections.create"
	opUpdateSection = "sections.update"
	opMoveSection   = "sections.move"
	opDeleteSection = "sections.delete"
	opBulkOperate   = "sections.bulk"
	opHierarchy     = "sections.hierarchy"
)

// IDProvider issues identifiers for new sections.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the hierarchy service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service orchestrates validation, path maintenance, and persistence for the
// course section tree. Every mutation runs inside one transaction under a
// per-course mutex so concurrent moves never interleave their check and act
// phases.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	locks      sync.Map
}

// NewService validates configuration and constructs the hierarchy service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, faults.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, faults.Internal(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

func (s *Service) lockCourse(courseID string) func() {
	value, _ := s.locks.LoadOrStore(courseID, &sync.Mutex{})
	mutex := value.(*sync.Mutex)
	mutex.Lock()
	return mutex.Unlock
}

// ContentInput carries an optional section body and its encoding.
type ContentInput struct {
	PrimaryFormat string
	Body          string
}

// CreateSection inserts a new section under a course, optionally under a
// parent, after creation, depth, and structure validation. Order is assigned
// as the current sibling count.
func (s *Service) CreateSection(ctx context.Context, courseID courses.CourseID, parentID *SectionID, title string, content *ContentInput, requester courses.UserID) (Section, error) {
	unlock := s.lockCourse(courseID.String())
	defer unlock()

	format := ""
	body := ""
	if content != nil {
		format = content.PrimaryFormat
		body = content.Body
	}

	var created Section
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		validator := NewValidator(tx)
		course, parent, err := validator.ValidateCreation(ctx, courseID, parentID, title, format, requester)
		if err != nil {
			return err
		}
		if courses.Architecture(course.Architecture) == courses.ArchitectureLegacy {
			return faults.New(faults.KindStructureViolation, opCreateSection, "legacy_architecture",
				errors.New("legacy courses must be converted before sections can be added"))
		}
		if err := validator.ValidateNestingDepth(ctx, courseID, parentID, course.MaxNestingDepth); err != nil {
			return err
		}
		if err := validator.ValidateStructureConstraint(ctx, courseID, parentID); err != nil {
			return err
		}

		rawID, err := s.idProvider.NewID()
		if err != nil {
			return faults.Internal(opCreateSection, "id_generation_failed", err)
		}
		sectionID, err := NewSectionID(rawID)
		if err != nil {
			return faults.Internal(opCreateSection, "id_generation_failed", err)
		}

		parentPath := ""
		var parentRef *string
		if parent != nil {
			parentPath = parent.Path
			parentRef = &parent.SectionID
		}
		path, level := ComputeInsertionPath(parentPath, sectionID)

		siblingCount, err := s.countSiblings(ctx, tx, courseID.String(), parentRef)
		if err != nil {
			return err
		}

		if format == "" {
			format = string(ContentFormatMarkdown)
		}
		now := s.clock().UTC().Unix()
		created = Section{
			SectionID:        sectionID.String(),
			CourseID:         courseID.String(),
			ParentID:         parentRef,
			Path:             path,
			Level:            level,
			SortOrder:        int(siblingCount),
			Title:            strings.TrimSpace(title),
			PrimaryFormat:    format,
			Body:             body,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return faults.Internal(opCreateSection, "section_insert_failed", err)
		}
		if courses.Architecture(course.Architecture) == courses.ArchitectureEmpty {
			if err := tx.Model(&courses.Course{}).
				Where("course_id = ?", courseID.String()).
				Updates(map[string]interface{}{
					"architecture": string(courses.ArchitectureSectionBased),
					"updated_at_s": now,
				}).Error; err != nil {
				return faults.Internal(opCreateSection, "architecture_update_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreateSection, txErr, zap.String("course_id", courseID.String()))
		return Section{}, txErr
	}
	return created, nil
}

// UpdateRequest carries a partial section update.
type UpdateRequest struct {
	Title   *string
	Content *ContentInput
}

// UpdateSection applies a partial title/content update. Path, level, and
// order are never touched here.
func (s *Service) UpdateSection(ctx context.Context, sectionID SectionID, request UpdateRequest, requester courses.UserID) (Section, error) {
	var updated Section
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		validator := NewValidator(tx)
		section, err := validator.loadSection(ctx, opUpdateSection, "section_not_found", sectionID)
		if err != nil {
			return err
		}
		course, err := s.loadCourse(ctx, tx, opUpdateSection, section.CourseID)
		if err != nil {
			return err
		}
		if !course.IsOwnedBy(requester) {
			return faults.New(faults.KindForbidden, opUpdateSection, "not_owner", nil)
		}

		changes := map[string]interface{}{}
		if request.Title != nil {
			trimmed := strings.TrimSpace(*request.Title)
			if trimmed == "" {
				return faults.New(faults.KindInvalidInput, opUpdateSection, "empty_title", ErrInvalidTitle)
			}
			changes["title"] = trimmed
		}
		if request.Content != nil {
			format, err := ParseContentFormat(request.Content.PrimaryFormat)
			if err != nil {
				return faults.New(faults.KindInvalidInput, opUpdateSection, "invalid_format", err)
			}
			changes["primary_format"] = string(format)
			changes["body"] = request.Content.Body
		}
		if len(changes) == 0 {
			updated = section
			return nil
		}
		changes["updated_at_s"] = s.clock().UTC().Unix()
		if err := tx.Model(&Section{}).
			Where("section_id = ?", sectionID.String()).
			Updates(changes).Error; err != nil {
			return faults.Internal(opUpdateSection, "section_update_failed", err)
		}
		if err := tx.Where("section_id = ?", sectionID.String()).Take(&updated).Error; err != nil {
			return faults.Internal(opUpdateSection, "section_reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opUpdateSection, txErr, zap.String("section_id", sectionID.String()))
		return Section{}, txErr
	}
	return updated, nil
}

// MoveSection reparents a section and its subtree, then renormalizes sibling
// order at both the old and new parent. The reparent batch is one
// transaction so the tree is never observed half-updated.
func (s *Service) MoveSection(ctx context.Context, sectionID SectionID, newParentID *SectionID, newOrder *int, requester courses.UserID) (Section, error) {
	var moved Section
	txErr := func() error {
		var courseRef string
		if err := s.db.WithContext(ctx).Model(&Section{}).
			Where("section_id = ?", sectionID.String()).
			Pluck("course_id", &courseRef).Error; err != nil {
			return faults.Internal(opMoveSection, "section_select_failed", err)
		}
		unlock := s.lockCourse(courseRef)
		defer unlock()

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			moved, err = s.moveWithinTx(ctx, tx, sectionID, newParentID, newOrder, requester)
			return err
		})
	}()
	if txErr != nil {
		s.logError(opMoveSection, txErr, zap.String("section_id", sectionID.String()))
		return Section{}, txErr
	}
	return moved, nil
}

func (s *Service) moveWithinTx(ctx context.Context, tx *gorm.DB, sectionID SectionID, newParentID *SectionID, newOrder *int, requester courses.UserID) (Section, error) {
	validator := NewValidator(tx)
	section, descendants, newParent, err := validator.ValidateMove(ctx, sectionID, newParentID, newOrder, requester)
	if err != nil {
		return Section{}, err
	}
	course, err := s.loadCourse(ctx, tx, opMoveSection, section.CourseID)
	if err != nil {
		return Section{}, err
	}

	newParentPath := ""
	newLevel := 0
	var newParentRef *string
	if newParent != nil {
		newParentPath = newParent.Path
		newLevel = newParent.Level + 1
		newParentRef = &newParent.SectionID
	}

	subtreeHeight := 0
	for _, descendant := range descendants {
		if depth := descendant.Level - section.Level; depth > subtreeHeight {
			subtreeHeight = depth
		}
	}
	effectiveMax := course.MaxNestingDepth
	if courses.Structure(course.Structure) == courses.StructureFlat && effectiveMax > 1 {
		effectiveMax = 1
	}
	if newLevel+subtreeHeight > effectiveMax {
		if courses.Structure(course.Structure) == courses.StructureFlat && newLevel+subtreeHeight <= course.MaxNestingDepth {
			return Section{}, faults.New(faults.KindStructureViolation, opMoveSection, "flat_nesting",
				errors.New("flat courses permit at most one level of nesting"))
		}
		return Section{}, faults.New(faults.KindDepthExceeded, opMoveSection, "max_depth_exceeded",
			fmt.Errorf("level %d exceeds max depth %d", newLevel+subtreeHeight, effectiveMax))
	}

	oldParentRef := section.ParentID
	updates, err := ComputeReparentPaths(section, descendants, newParentPath)
	if err != nil {
		return Section{}, faults.Internal(opMoveSection, "path_recompute_failed", err)
	}

	now := s.clock().UTC().Unix()
	for _, update := range updates {
		changes := map[string]interface{}{
			"path":         update.Path,
			"level":        update.Level,
			"updated_at_s": now,
		}
		if update.SectionID == section.SectionID {
			changes["parent_id"] = newParentRef
		}
		if err := tx.Model(&Section{}).
			Where("section_id = ?", update.SectionID).
			Updates(changes).Error; err != nil {
			return Section{}, faults.Internal(opMoveSection, "reparent_write_failed", err)
		}
	}

	if err := s.renormalizeSiblings(ctx, tx, opMoveSection, section.CourseID, oldParentRef, "", nil, now); err != nil {
		return Section{}, err
	}
	if err := s.renormalizeSiblings(ctx, tx, opMoveSection, section.CourseID, newParentRef, section.SectionID, newOrder, now); err != nil {
		return Section{}, err
	}

	var reloaded Section
	if err := tx.Where("section_id = ?", section.SectionID).Take(&reloaded).Error; err != nil {
		return Section{}, faults.Internal(opMoveSection, "section_reload_failed", err)
	}
	return reloaded, nil
}

// DeleteSection removes a section and, by cascade, its whole subtree, then
// renormalizes the remaining siblings.
func (s *Service) DeleteSection(ctx context.Context, sectionID SectionID, requester courses.UserID) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		validator := NewValidator(tx)
		section, err := validator.loadSection(ctx, opDeleteSection, "section_not_found", sectionID)
		if err != nil {
			return err
		}
		course, err := s.loadCourse(ctx, tx, opDeleteSection, section.CourseID)
		if err != nil {
			return err
		}
		if !course.IsOwnedBy(requester) {
			return faults.New(faults.KindForbidden, opDeleteSection, "not_owner", nil)
		}
		return s.deleteSubtree(ctx, tx, opDeleteSection, section)
	})
	if txErr != nil {
		s.logError(opDeleteSection, txErr, zap.String("section_id", sectionID.String()))
	}
	return txErr
}

func (s *Service) deleteSubtree(ctx context.Context, tx *gorm.DB, operation string, section Section) error {
	err := tx.Where("course_id = ? AND (section_id = ? OR path LIKE ?)",
		section.CourseID, section.SectionID, section.Path+pathSeparator+"%").
		Delete(&Section{}).Error
	if err != nil {
		return faults.Internal(operation, "subtree_delete_failed", err)
	}
	now := s.clock().UTC().Unix()
	return s.renormalizeSiblings(ctx, tx, operation, section.CourseID, section.ParentID, "", nil, now)
}

// BulkParams carries the per-operation payload for BulkOperate.
type BulkParams struct {
	// NewParentID designates the target parent for the move operation;
	// nil moves the sections to the root level.
	NewParentID *SectionID
	// Orders maps section ids to requested order values for reorder.
	Orders map[string]int
}

// BulkOperate validates a set of section ids as one unit and dispatches to
// the per-item delete, reorder, or move logic inside a single transaction.
func (s *Service) BulkOperate(ctx context.Context, sectionIDs []SectionID, operation BulkOperation, params BulkParams, requester courses.UserID) error {
	txErr := func() error {
		if len(sectionIDs) == 0 {
			return faults.New(faults.KindInvalidInput, opBulkOperate, "empty_selection", nil)
		}
		var courseRef string
		if err := s.db.WithContext(ctx).Model(&Section{}).
			Where("section_id = ?", sectionIDs[0].String()).
			Pluck("course_id", &courseRef).Error; err != nil {
			return faults.Internal(opBulkOperate, "section_select_failed", err)
		}
		unlock := s.lockCourse(courseRef)
		defer unlock()

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			validator := NewValidator(tx)
			resolved, _, err := validator.ValidateBulkOperation(ctx, sectionIDs, operation, requester)
			if err != nil {
				return err
			}
			switch operation {
			case BulkOperationDelete:
				return s.bulkDelete(ctx, tx, resolved)
			case BulkOperationReorder:
				return s.bulkReorder(ctx, tx, resolved, params.Orders)
			case BulkOperationMove:
				for _, section := range resolved {
					sectionID, err := NewSectionID(section.SectionID)
					if err != nil {
						return faults.Internal(opBulkOperate, "corrupt_section_id", err)
					}
					if _, err := s.moveWithinTx(ctx, tx, sectionID, params.NewParentID, nil, requester); err != nil {
						return err
					}
				}
				return nil
			default:
				return faults.New(faults.KindInvalidInput, opBulkOperate, "invalid_operation", ErrInvalidBulkOperation)
			}
		})
	}()
	if txErr != nil {
		s.logError(opBulkOperate, txErr, zap.Int("section_count", len(sectionIDs)))
	}
	return txErr
}

func (s *Service) bulkDelete(ctx context.Context, tx *gorm.DB, resolved []Section) error {
	deleted := map[string]bool{}
	for _, section := range resolved {
		if deleted[section.SectionID] {
			continue
		}
		var current Section
		err := tx.Where("section_id = ?", section.SectionID).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Already removed as a descendant of an earlier delete.
			continue
		}
		if err != nil {
			return faults.Internal(opBulkOperate, "section_select_failed", err)
		}
		if err := s.deleteSubtree(ctx, tx, opBulkOperate, current); err != nil {
			return err
		}
		deleted[section.SectionID] = true
	}
	return nil
}

func (s *Service) bulkReorder(ctx context.Context, tx *gorm.DB, resolved []Section, orders map[string]int) error {
	now := s.clock().UTC().Unix()
	parents := map[string]*string{}
	for _, section := range resolved {
		requested, ok := orders[section.SectionID]
		if !ok {
			return faults.New(faults.KindInvalidInput, opBulkOperate, "missing_order",
				fmt.Errorf("no order supplied for section %s", section.SectionID))
		}
		if requested < 0 {
			return faults.New(faults.KindInvalidInput, opBulkOperate, "negative_order",
				fmt.Errorf("order %d is negative", requested))
		}
		if err := tx.Model(&Section{}).
			Where("section_id = ?", section.SectionID).
			Updates(map[string]interface{}{"sort_order": requested, "updated_at_s": now}).Error; err != nil {
			return faults.Internal(opBulkOperate, "order_write_failed", err)
		}
		parents[parentKey(section.ParentID)] = section.ParentID
	}
	for _, parentRef := range parents {
		if err := s.renormalizeSiblings(ctx, tx, opBulkOperate, resolved[0].CourseID, parentRef, "", nil, now); err != nil {
			return err
		}
	}
	return nil
}

func parentKey(parentID *string) string {
	if parentID == nil {
		return ""
	}
	return *parentID
}

// renormalizeSiblings reassigns a dense 0..n-1 order to the siblings under
// parentRef. When pinnedID is non-empty that section is placed at pinnedOrder
// (clamped to the sibling count, appended when nil) and the rest keep their
// relative order.
func (s *Service) renormalizeSiblings(ctx context.Context, tx *gorm.DB, operation, courseID string, parentRef *string, pinnedID string, pinnedOrder *int, now int64) error {
	query := tx.WithContext(ctx).Where("course_id = ?", courseID)
	if parentRef == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", *parentRef)
	}
	var siblings []Section
	if err := query.Order("sort_order ASC").Find(&siblings).Error; err != nil {
		return faults.Internal(operation, "sibling_query_failed", err)
	}

	ordered := siblings
	if pinnedID != "" {
		rest := make([]Section, 0, len(siblings))
		var pinned *Section
		for index := range siblings {
			if siblings[index].SectionID == pinnedID {
				pinned = &siblings[index]
				continue
			}
			rest = append(rest, siblings[index])
		}
		if pinned != nil {
			position := len(rest)
			if pinnedOrder != nil && *pinnedOrder < position {
				position = *pinnedOrder
			}
			ordered = make([]Section, 0, len(siblings))
			ordered = append(ordered, rest[:position]...)
			ordered = append(ordered, *pinned)
			ordered = append(ordered, rest[position:]...)
			for index := range ordered {
				ordered[index].SortOrder = index
			}
		}
	}

	for _, update := range NormalizeOrder(ordered) {
		if err := tx.Model(&Section{}).
			Where("section_id = ?", update.SectionID).
			Updates(map[string]interface{}{"sort_order": update.SortOrder, "updated_at_s": now}).Error; err != nil {
			return faults.Internal(operation, "order_write_failed", err)
		}
	}
	return nil
}

func (s *Service) countSiblings(ctx context.Context, tx *gorm.DB, courseID string, parentRef *string) (int64, error) {
	query := tx.WithContext(ctx).Model(&Section{}).Where("course_id = ?", courseID)
	if parentRef == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", *parentRef)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, faults.Internal(opCreateSection, "sibling_count_failed", err)
	}
	return count, nil
}

func (s *Service) loadCourse(ctx context.Context, tx *gorm.DB, operation, courseID string) (courses.Course, error) {
	var course courses.Course
	err := tx.WithContext(ctx).Where("course_id = ?", courseID).Take(&course).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return courses.Course{}, faults.New(faults.KindNotFound, operation, "course_not_found", err)
	}
	if err != nil {
		return courses.Course{}, faults.Internal(operation, "course_select_failed", err)
	}
	return course, nil
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("sections service error", attrs...)
}
