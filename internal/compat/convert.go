package compat

import (
	"context"
	"errors"
	"time"

	"github.com/coursekit/coursekit-backend/internal/courses"
	"github.com/coursekit/coursekit-backend/internal/faults"
	"github.com/coursekit/coursekit-backend/internal/sections"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "compat.service.new"
	opConvert    = "compat.convert"
)

// ServiceConfig describes the dependencies of the compatibility service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider sections.IDProvider
	Logger     *zap.Logger
}

// Service performs the one-way legacy-to-section-based conversion.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider sections.IDProvider
	logger     *zap.Logger
}

// NewService validates configuration and constructs the compatibility service.
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

// ConvertLegacyCourse parses the monolithic blob of a legacy course into
// root sections (one per top-level module, original order) with one child
// per item, flips the architecture tag to section-based, and clears the
// blob. The transition is directed: converting a non-legacy course fails and
// no inverse exists.
func (s *Service) ConvertLegacyCourse(ctx context.Context, courseID courses.CourseID, requester courses.UserID) (courses.Course, error) {
	var converted courses.Course
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var course courses.Course
		err := tx.Where("course_id = ?", courseID.String()).Take(&course).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return faults.New(faults.KindNotFound, opConvert, "course_not_found", err)
		}
		if err != nil {
			return faults.Internal(opConvert, "course_select_failed", err)
		}
		if !course.IsOwnedBy(requester) {
			return faults.New(faults.KindForbidden, opConvert, "not_owner", nil)
		}
		if !IsLegacyCourse(course) {
			return faults.New(faults.KindInvalidInput, opConvert, "not_legacy",
				errors.New("only legacy courses can be converted"))
		}

		content, err := ParseLegacyBlob(course.LegacyContent)
		if err != nil {
			return faults.New(faults.KindInvalidInput, opConvert, "invalid_blob", err)
		}

		now := s.clock().UTC().Unix()
		for moduleIndex, module := range content.Modules {
			rootID, err := s.newSectionID()
			if err != nil {
				return faults.Internal(opConvert, "id_generation_failed", err)
			}
			rootPath, rootLevel := sections.ComputeInsertionPath("", rootID)
			root := sections.Section{
				SectionID:        rootID.String(),
				CourseID:         course.CourseID,
				Path:             rootPath,
				Level:            rootLevel,
				SortOrder:        moduleIndex,
				Title:            module.Title,
				PrimaryFormat:    string(sections.ContentFormatMarkdown),
				Body:             module.Description,
				CreatedAtSeconds: now,
				UpdatedAtSeconds: now,
			}
			if err := tx.Create(&root).Error; err != nil {
				return faults.Internal(opConvert, "section_insert_failed", err)
			}

			for itemIndex, item := range module.Items {
				childID, err := s.newSectionID()
				if err != nil {
					return faults.Internal(opConvert, "id_generation_failed", err)
				}
				format := item.Format
				if format == "" {
					format = string(sections.ContentFormatMarkdown)
				}
				if _, err := sections.ParseContentFormat(format); err != nil {
					return faults.New(faults.KindInvalidInput, opConvert, "invalid_item_format", err)
				}
				childPath, childLevel := sections.ComputeInsertionPath(rootPath, childID)
				parentRef := rootID.String()
				child := sections.Section{
					SectionID:        childID.String(),
					CourseID:         course.CourseID,
					ParentID:         &parentRef,
					Path:             childPath,
					Level:            childLevel,
					SortOrder:        itemIndex,
					Title:            item.Title,
					PrimaryFormat:    format,
					Body:             item.Body,
					CreatedAtSeconds: now,
					UpdatedAtSeconds: now,
				}
				if err := tx.Create(&child).Error; err != nil {
					return faults.Internal(opConvert, "section_insert_failed", err)
				}
			}
		}

		if err := tx.Model(&courses.Course{}).
			Where("course_id = ?", course.CourseID).
			Updates(map[string]interface{}{
				"architecture":   string(courses.ArchitectureSectionBased),
				"legacy_content": "",
				"updated_at_s":   now,
			}).Error; err != nil {
			return faults.Internal(opConvert, "architecture_update_failed", err)
		}

		if err := tx.Where("course_id = ?", course.CourseID).Take(&converted).Error; err != nil {
			return faults.Internal(opConvert, "course_reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logger.Error("compat service error",
			zap.String("operation", opConvert),
			zap.String("course_id", courseID.String()),
			zap.Error(txErr))
		return courses.Course{}, txErr
	}
	return converted, nil
}

func (s *Service) newSectionID() (sections.SectionID, error) {
	raw, err := s.idProvider.NewID()
	if err != nil {
		return "", err
	}
	return sections.NewSectionID(raw)
}
