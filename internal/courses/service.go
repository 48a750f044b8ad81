package courses

import (
	"context"
	"errors"
	"strings"
	"time"

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
	opServiceNew    = "courses.service.new"
	opCreateCourse  = "courses.create"
	opGetCourse     = "courses.get"
	opSetVisibility = "courses.set_visibility"
	opGetVisibility = "courses.get_visibility"
	opForkCourse    = "courses.fork"
	opDiscover      = "courses.discover"
	opRecordView    = "courses.record_view"
)

// IDProvider issues identifiers for new courses.
type IDProvider interface {
	NewID() (string, error)
}

// SectionCloner copies the full section tree of one course into another
// within the supplied transaction. Implemented by the sections service.
type SectionCloner interface {
	CloneTree(ctx context.Context, tx *gorm.DB, sourceCourseID, targetCourseID string) error
}

// ServiceConfig describes the dependencies of the course service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Cloner     SectionCloner
	Logger     *zap.Logger
	// DefaultMaxDepth applies to courses created without an explicit
	// nesting depth; zero selects DefaultMaxNestingDepth.
	DefaultMaxDepth int
}

// Service manages course-level state: creation, visibility, forking, and
// public discovery.
type Service struct {
	db              *gorm.DB
	clock           func() time.Time
	idProvider      IDProvider
	cloner          SectionCloner
	logger          *zap.Logger
	defaultMaxDepth int
}

// NewService validates configuration and constructs the course service.
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
	defaultMaxDepth := cfg.DefaultMaxDepth
	if defaultMaxDepth <= 0 {
		defaultMaxDepth = DefaultMaxNestingDepth
	}
	return &Service{
		db:              cfg.Database,
		clock:           clock,
		idProvider:      cfg.IDProvider,
		cloner:          cfg.Cloner,
		logger:          logger,
		defaultMaxDepth: defaultMaxDepth,
	}, nil
}

// CreateCourseRequest carries the fields accepted at course creation. The
// generation pipeline that produces course material sits outside this
// service; it hands over either a legacy blob or nothing.
type CreateCourseRequest struct {
	Title           string
	ContentType     ContentType
	Structure       Structure
	MaxNestingDepth int
	LegacyContent   string
	IsPublic        bool
}

// CreateCourse persists a new course owned by the requester. Supplying a
// legacy blob marks the course legacy; otherwise it starts empty.
func (s *Service) CreateCourse(ctx context.Context, request CreateCourseRequest, requester UserID) (Course, error) {
	title := strings.TrimSpace(request.Title)
	if title == "" {
		return Course{}, faults.New(faults.KindInvalidInput, opCreateCourse, "empty_title", ErrInvalidTitle)
	}
	if _, err := ParseContentType(string(request.ContentType)); err != nil {
		return Course{}, faults.New(faults.KindInvalidInput, opCreateCourse, "invalid_content_type", err)
	}
	structure := request.Structure
	if structure == "" {
		structure = StructureNested
	}
	if _, err := ParseStructure(string(structure)); err != nil {
		return Course{}, faults.New(faults.KindInvalidInput, opCreateCourse, "invalid_structure", err)
	}
	maxDepth := request.MaxNestingDepth
	if maxDepth <= 0 {
		maxDepth = s.defaultMaxDepth
	}

	rawID, err := s.idProvider.NewID()
	if err != nil {
		return Course{}, faults.Internal(opCreateCourse, "id_generation_failed", err)
	}

	architecture := ArchitectureEmpty
	if strings.TrimSpace(request.LegacyContent) != "" {
		architecture = ArchitectureLegacy
	}

	now := s.clock().UTC().Unix()
	course := Course{
		CourseID:         rawID,
		OwnerID:          requester.String(),
		Title:            title,
		ContentType:      string(request.ContentType),
		Structure:        string(structure),
		MaxNestingDepth:  maxDepth,
		Architecture:     string(architecture),
		LegacyContent:    request.LegacyContent,
		IsPublic:         request.IsPublic,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&course).Error; err != nil {
		s.logError(opCreateCourse, err)
		return Course{}, faults.Internal(opCreateCourse, "course_insert_failed", err)
	}
	return course, nil
}

// GetCourse loads one course by id.
func (s *Service) GetCourse(ctx context.Context, courseID CourseID) (Course, error) {
	var course Course
	err := s.db.WithContext(ctx).
		Where("course_id = ?", courseID.String()).
		Take(&course).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Course{}, faults.New(faults.KindNotFound, opGetCourse, "course_not_found", err)
	}
	if err != nil {
		return Course{}, faults.Internal(opGetCourse, "course_select_failed", err)
	}
	return course, nil
}

// SetVisibility toggles isPublic; only the owner may change it.
func (s *Service) SetVisibility(ctx context.Context, courseID CourseID, isPublic bool, requester UserID) (Course, error) {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return Course{}, err
	}
	if !course.IsOwnedBy(requester) {
		return Course{}, faults.New(faults.KindForbidden, opSetVisibility, "not_owner", nil)
	}
	now := s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Model(&Course{}).
		Where("course_id = ?", courseID.String()).
		Updates(map[string]interface{}{"is_public": isPublic, "updated_at_s": now}).Error; err != nil {
		s.logError(opSetVisibility, err, zap.String("course_id", courseID.String()))
		return Course{}, faults.Internal(opSetVisibility, "visibility_update_failed", err)
	}
	course.IsPublic = isPublic
	course.UpdatedAtSeconds = now
	return course, nil
}

// GetVisibility reports whether a course is public. Private courses answer
// only to their owner.
func (s *Service) GetVisibility(ctx context.Context, courseID CourseID, requester *UserID) (bool, error) {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return false, err
	}
	if !course.IsPublic {
		if requester == nil || !course.IsOwnedBy(*requester) {
			return false, faults.New(faults.KindForbidden, opGetVisibility, "private_course", nil)
		}
	}
	return course.IsPublic, nil
}

// Fork creates an independent copy of a public (or owned) course for the
// requester: new id, forkedFrom pointing at the source, fork count bumped on
// the source by exactly one, and a deep copy of the section tree.
func (s *Service) Fork(ctx context.Context, courseID CourseID, requester UserID) (Course, error) {
	var forked Course
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var source Course
		err := tx.Where("course_id = ?", courseID.String()).Take(&source).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return faults.New(faults.KindNotFound, opForkCourse, "course_not_found", err)
		}
		if err != nil {
			return faults.Internal(opForkCourse, "course_select_failed", err)
		}
		if !source.IsPublic && !source.IsOwnedBy(requester) {
			return faults.New(faults.KindForbidden, opForkCourse, "private_course", nil)
		}

		rawID, err := s.idProvider.NewID()
		if err != nil {
			return faults.Internal(opForkCourse, "id_generation_failed", err)
		}

		now := s.clock().UTC().Unix()
		sourceID := source.CourseID
		forked = Course{
			CourseID:         rawID,
			OwnerID:          requester.String(),
			Title:            source.Title,
			ContentType:      source.ContentType,
			Structure:        source.Structure,
			MaxNestingDepth:  source.MaxNestingDepth,
			Architecture:     source.Architecture,
			LegacyContent:    source.LegacyContent,
			IsPublic:         false,
			ForkedFrom:       &sourceID,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if err := tx.Create(&forked).Error; err != nil {
			return faults.Internal(opForkCourse, "course_insert_failed", err)
		}
		if err := tx.Model(&Course{}).
			Where("course_id = ?", sourceID).
			Updates(map[string]interface{}{
				"fork_count":   gorm.Expr("fork_count + 1"),
				"updated_at_s": now,
			}).Error; err != nil {
			return faults.Internal(opForkCourse, "fork_count_update_failed", err)
		}

		if Architecture(source.Architecture) == ArchitectureSectionBased && s.cloner != nil {
			if err := s.cloner.CloneTree(ctx, tx, sourceID, forked.CourseID); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opForkCourse, txErr, zap.String("course_id", courseID.String()))
		return Course{}, txErr
	}
	return forked, nil
}

// SortBy enumerates the discovery orderings.
type SortBy string

const (
	SortByRecent  SortBy = "recent"
	SortByPopular SortBy = "popular"
	SortByForks   SortBy = "forks"
)

const (
	defaultPageSize = 10
	maxPageSize     = 50
)

// DiscoverRequest describes a public discovery query.
type DiscoverRequest struct {
	Page        int
	Limit       int
	SortBy      SortBy
	ContentType string
	Search      string
}

// Pagination describes the page window of a discovery response.
type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalItems  int64 `json:"totalItems"`
}

// DiscoverResult is one page of public courses.
type DiscoverResult struct {
	Data       []Course
	Pagination Pagination
}

// Discover lists public courses with paging, sorting, and optional type and
// free-text title filters.
func (s *Service) Discover(ctx context.Context, request DiscoverRequest) (DiscoverResult, error) {
	page := request.Page
	if page < 1 {
		page = 1
	}
	limit := request.Limit
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	order := ""
	switch request.SortBy {
	case SortByRecent, "":
		order = "created_at_s DESC"
	case SortByPopular:
		order = "views DESC"
	case SortByForks:
		order = "fork_count DESC"
	default:
		return DiscoverResult{}, faults.New(faults.KindInvalidInput, opDiscover, "invalid_sort",
			errors.New("sortBy must be one of recent, popular, forks"))
	}

	query := s.db.WithContext(ctx).Model(&Course{}).Where("is_public = ?", true)
	if contentType := strings.TrimSpace(request.ContentType); contentType != "" {
		parsed, err := ParseContentType(contentType)
		if err != nil {
			return DiscoverResult{}, faults.New(faults.KindInvalidInput, opDiscover, "invalid_content_type", err)
		}
		query = query.Where("content_type = ?", string(parsed))
	}
	if search := strings.TrimSpace(request.Search); search != "" {
		query = query.Where("title LIKE ?", "%"+search+"%")
	}

	var totalItems int64
	if err := query.Count(&totalItems).Error; err != nil {
		s.logError(opDiscover, err)
		return DiscoverResult{}, faults.Internal(opDiscover, "count_failed", err)
	}

	var data []Course
	if err := query.Order(order).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&data).Error; err != nil {
		s.logError(opDiscover, err)
		return DiscoverResult{}, faults.Internal(opDiscover, "query_failed", err)
	}

	totalPages := int((totalItems + int64(limit) - 1) / int64(limit))
	return DiscoverResult{
		Data: data,
		Pagination: Pagination{
			CurrentPage: page,
			TotalPages:  totalPages,
			TotalItems:  totalItems,
		},
	}, nil
}

// RecordView bumps the view counter backing the popular sort.
func (s *Service) RecordView(ctx context.Context, courseID CourseID) error {
	err := s.db.WithContext(ctx).Model(&Course{}).
		Where("course_id = ?", courseID.String()).
		Update("views", gorm.Expr("views + 1")).Error
	if err != nil {
		s.logError(opRecordView, err, zap.String("course_id", courseID.String()))
		return faults.Internal(opRecordView, "view_update_failed", err)
	}
	return nil
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("courses service error", attrs...)
}
