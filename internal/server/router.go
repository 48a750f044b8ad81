package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coursekit/coursekit-backend/internal/compat"
	"github.com/coursekit/coursekit-backend/internal/courses"
	"github.com/coursekit/coursekit-backend/internal/faults"
	"github.com/coursekit/coursekit-backend/internal/sections"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const requesterContextKey = "coursekit_requester"

const legacyShape = "legacy"

var (
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingCourseService   = errors.New("course service dependency required")
	errMissingSectionService  = errors.New("section service dependency required")
	errMissingCompatService   = errors.New("compat service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
	errMissingRequesterClaims = errors.New("requester identity required")
)

// TokenManager issues and validates the bearer tokens carrying the requester
// identity supplied by the authentication collaborator.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the domain services.
type Dependencies struct {
	TokenManager   TokenManager
	CourseService  *courses.Service
	SectionService *sections.Service
	CompatService  *compat.Service
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the gin router exposing the course hierarchy API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.CourseService == nil {
		return nil, errMissingCourseService
	}
	if deps.SectionService == nil {
		return nil, errMissingSectionService
	}
	if deps.CompatService == nil {
		return nil, errMissingCompatService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		courses:  deps.CourseService,
		sections: deps.SectionService,
		compat:   deps.CompatService,
		logger:   logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)
	router.GET("/discover", handler.handleDiscover)

	public := router.Group("/")
	public.Use(handler.resolveRequester(false))
	public.GET("/courses/:courseID/hierarchy", handler.handleHierarchy)
	public.GET("/courses/:courseID/visibility", handler.handleGetVisibility)

	protected := router.Group("/")
	protected.Use(handler.resolveRequester(true))
	protected.POST("/courses", handler.handleCreateCourse)
	protected.POST("/courses/:courseID/sections", handler.handleCreateSection)
	protected.PATCH("/sections/:sectionID", handler.handleUpdateSection)
	protected.POST("/sections/:sectionID/move", handler.handleMoveSection)
	protected.DELETE("/sections/:sectionID", handler.handleDeleteSection)
	protected.POST("/sections/bulk", handler.handleBulkOperate)
	protected.POST("/courses/:courseID/convert", handler.handleConvertCourse)
	protected.PATCH("/courses/:courseID/visibility", handler.handleSetVisibility)
	protected.POST("/courses/:courseID/fork", handler.handleForkCourse)

	return router, nil
}

type httpHandler struct {
	tokens   TokenManager
	courses  *courses.Service
	sections *sections.Service
	compat   *compat.Service
	logger   *zap.Logger
}

// resolveRequester validates the bearer token and stores the requester
// identity. When required is false, anonymous requests pass through with no
// identity set.
func (h *httpHandler) resolveRequester(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
				return
			}
			c.Next()
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		subject, err := h.tokens.ValidateToken(token)
		if err != nil {
			h.logger.Warn("token validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(requesterContextKey, subject)
		c.Next()
	}
}

func (h *httpHandler) requester(c *gin.Context) (courses.UserID, bool) {
	requester, err := courses.NewUserID(c.GetString(requesterContextKey))
	if err != nil {
		return "", false
	}
	return requester, true
}

func (h *httpHandler) optionalRequester(c *gin.Context) *courses.UserID {
	requester, ok := h.requester(c)
	if !ok {
		return nil
	}
	return &requester
}

var faultStatus = map[faults.Kind]int{
	faults.KindInvalidInput:         http.StatusBadRequest,
	faults.KindForbidden:            http.StatusForbidden,
	faults.KindNotFound:             http.StatusNotFound,
	faults.KindCycleDetected:        http.StatusConflict,
	faults.KindDepthExceeded:        http.StatusUnprocessableEntity,
	faults.KindStructureViolation:   http.StatusUnprocessableEntity,
	faults.KindCrossCourseViolation: http.StatusUnprocessableEntity,
}

// respondFault maps taxonomy faults onto 4xx responses carrying their dotted
// code; anything else becomes an opaque 500.
func (h *httpHandler) respondFault(c *gin.Context, err error) {
	kind := faults.KindOf(err)
	status, ok := faultStatus[kind]
	if !ok {
		h.logger.Error("internal error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(status, gin.H{"error": string(kind), "code": faults.CodeOf(err)})
}

type tokenRequestPayload struct {
	UserID string `json:"user_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), strings.TrimSpace(request.UserID))
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type coursePayload struct {
	CourseID        string  `json:"courseId"`
	OwnerID         string  `json:"ownerId"`
	Title           string  `json:"title"`
	ContentType     string  `json:"type"`
	Structure       string  `json:"structure"`
	MaxNestingDepth int     `json:"maxNestingDepth"`
	Architecture    string  `json:"architecture"`
	IsPublic        bool    `json:"isPublic"`
	ForkCount       int64   `json:"forkCount"`
	ForkedFrom      *string `json:"forkedFrom,omitempty"`
	Views           int64   `json:"views"`
	CreatedAt       int64   `json:"created_at_s"`
	UpdatedAt       int64   `json:"updated_at_s"`
}

func toCoursePayload(course courses.Course) coursePayload {
	return coursePayload{
		CourseID:        course.CourseID,
		OwnerID:         course.OwnerID,
		Title:           course.Title,
		ContentType:     course.ContentType,
		Structure:       course.Structure,
		MaxNestingDepth: course.MaxNestingDepth,
		Architecture:    course.Architecture,
		IsPublic:        course.IsPublic,
		ForkCount:       course.ForkCount,
		ForkedFrom:      course.ForkedFrom,
		Views:           course.Views,
		CreatedAt:       course.CreatedAtSeconds,
		UpdatedAt:       course.UpdatedAtSeconds,
	}
}

type sectionPayload struct {
	SectionID     string  `json:"sectionId"`
	CourseID      string  `json:"courseId"`
	ParentID      *string `json:"parentId,omitempty"`
	Path          string  `json:"path"`
	Level         int     `json:"level"`
	Order         int     `json:"order"`
	Title         string  `json:"title"`
	PrimaryFormat string  `json:"primaryFormat"`
	Body          string  `json:"body"`
}

func toSectionPayload(section sections.Section) sectionPayload {
	return sectionPayload{
		SectionID:     section.SectionID,
		CourseID:      section.CourseID,
		ParentID:      section.ParentID,
		Path:          section.Path,
		Level:         section.Level,
		Order:         section.SortOrder,
		Title:         section.Title,
		PrimaryFormat: section.PrimaryFormat,
		Body:          section.Body,
	}
}

type treeNodePayload struct {
	sectionPayload
	Children []treeNodePayload `json:"children"`
}

func toTreePayload(nodes []*sections.TreeNode) []treeNodePayload {
	payload := make([]treeNodePayload, 0, len(nodes))
	for _, node := range nodes {
		payload = append(payload, treeNodePayload{
			sectionPayload: toSectionPayload(node.Section),
			Children:       toTreePayload(node.Children),
		})
	}
	return payload
}

type contentPayload struct {
	PrimaryFormat string `json:"primaryFormat"`
	Body          string `json:"body"`
}

type createCoursePayload struct {
	Title           string `json:"title"`
	ContentType     string `json:"type"`
	Structure       string `json:"structure"`
	MaxNestingDepth int    `json:"maxNestingDepth"`
	LegacyContent   string `json:"legacyContent"`
	IsPublic        bool   `json:"isPublic"`
}

func (h *httpHandler) handleCreateCourse(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMissingRequesterClaims.Error()})
		return
	}
	var request createCoursePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	course, err := h.courses.CreateCourse(c.Request.Context(), courses.CreateCourseRequest{
		Title:           request.Title,
		ContentType:     courses.ContentType(request.ContentType),
		Structure:       courses.Structure(request.Structure),
		MaxNestingDepth: request.MaxNestingDepth,
		LegacyContent:   request.LegacyContent,
		IsPublic:        request.IsPublic,
	}, requester)
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCoursePayload(course))
}

func (h *httpHandler) handleHierarchy(c *gin.Context) {
	courseID, err := courses.NewCourseID(c.Param("courseID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return
	}
	requester := h.optionalRequester(c)
	course, roots, err := h.sections.Hierarchy(c.Request.Context(), courseID, requester)
	if err != nil {
		h.respondFault(c, err)
		return
	}

	if requester == nil || !course.IsOwnedBy(*requester) {
		if err := h.courses.RecordView(c.Request.Context(), courseID); err != nil {
			h.logger.Warn("view count update failed", zap.Error(err))
		}
	}

	if c.Query("shape") == legacyShape {
		view, err := compat.ReshapeCourse(course, roots)
		if err != nil {
			h.respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"course":   toCoursePayload(course),
		"sections": toTreePayload(roots),
	})
}

type createSectionPayload struct {
	ParentID *string         `json:"parentId"`
	Title    string          `json:"title"`
	Content  *contentPayload `json:"content"`
}

func (h *httpHandler) handleCreateSection(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMissingRequesterClaims.Error()})
		return
	}
	courseID, err := courses.NewCourseID(c.Param("courseID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return
	}
	var request createSectionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	parentID, err := parseOptionalSectionID(request.ParentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_parent_id"})
		return
	}
	var content *sections.ContentInput
	if request.Content != nil {
		content = &sections.ContentInput{
			PrimaryFormat: request.Content.PrimaryFormat,
			Body:          request.Content.Body,
		}
	}
	section, err := h.sections.CreateSection(c.Request.Context(), courseID, parentID, request.Title, content, requester)
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSectionPayload(section))
}

type updateSectionPayload struct {
	Title   *string         `json:"title"`
	Content *contentPayload `json:"content"`
}

func (h *httpHandler) handleUpdateSection(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMissingRequesterClaims.Error()})
		return
	}
	sectionID, err := sections.NewSectionID(c.Param("sectionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_section_id"})
		return
	}
	var request updateSectionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	update := sections.UpdateRequest{Title: request.Title}
	if request.Content != nil {
		update.Content = &sections.ContentInput{
			PrimaryFormat: request.Content.PrimaryFormat,
			Body:          request.Content.Body,
		}
	}
	section, err := h.sections.UpdateSection(c.Request.Context(), sectionID, update, requester)
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, toSectionPayload(section))
}

type moveSectionPayload struct {
	NewParentID *string `json:"newParentId"`
	NewOrder    *int    `json:"newOrder"`
}

func (h *httpHandler) handleMoveSection(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMissingRequesterClaims.Error()})
		return
	}
	sectionID, err := sections.NewSectionID(c.Param("sectionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_section_id"})
		return
	}
	var request moveSectionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	newParentID, err := parseOptionalSectionID(request.NewParentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_parent_id"})
		return
	}
	section, err := h.sections.MoveSection(c.Request.Context(), sectionID, newParentID, request.NewOrder, requester)
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, toSectionPayload(section))
}

func (h *httpHandler) handleDeleteSection(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMissingRequesterClaims.Error()})
		return
	}
	sectionID, err := sections.NewSectionID(c.Param("sectionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_section_id"})
		return
	}
	if err := h.sections.DeleteSection(c.Request.Context(), sectionID, requester); err != nil {
		h.respondFault(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type bulkOperatePayload struct {
	SectionIDs []string       `json:"sectionIds"`
	Operation  string         `json:"operation"`
	Params     *bulkParamsDTO `json:"params"`
}

type bulkParamsDTO struct {
	NewParentID *string        `json:"newParentId"`
	Orders      map[string]int `json:"orders"`
}

func (h *httpHandler) handleBulkOperate(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMissingRequesterClaims.Error()})
		return
	}
	var request bulkOperatePayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.SectionIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	operation, err := sections.ParseBulkOperation(request.Operation)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_operation"})
		return
	}
	sectionIDs := make([]sections.SectionID, 0, len(request.SectionIDs))
	for _, raw := range request.SectionIDs {
		sectionID, err := sections.NewSectionID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_section_id"})
			return
		}
		sectionIDs = append(sectionIDs, sectionID)
	}
	params := sections.BulkParams{}
	if request.Params != nil {
		parentID, err := parseOptionalSectionID(request.Params.NewParentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_parent_id"})
			return
		}
		params.NewParentID = parentID
		params.Orders = request.Params.Orders
	}
	if err := h.sections.BulkOperate(c.Request.Context(), sectionIDs, operation, params, requester); err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleConvertCourse(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMissingRequesterClaims.Error()})
		return
	}
	courseID, err := courses.NewCourseID(c.Param("courseID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return
	}
	course, err := h.compat.ConvertLegacyCourse(c.Request.Context(), courseID, requester)
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, toCoursePayload(course))
}

type visibilityPayload struct {
	IsPublic *bool `json:"isPublic"`
}

func (h *httpHandler) handleSetVisibility(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMissingRequesterClaims.Error()})
		return
	}
	courseID, err := courses.NewCourseID(c.Param("courseID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return
	}
	var request visibilityPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.IsPublic == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	course, err := h.courses.SetVisibility(c.Request.Context(), courseID, *request.IsPublic, requester)
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courseId": course.CourseID, "isPublic": course.IsPublic})
}

func (h *httpHandler) handleGetVisibility(c *gin.Context) {
	courseID, err := courses.NewCourseID(c.Param("courseID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return
	}
	isPublic, err := h.courses.GetVisibility(c.Request.Context(), courseID, h.optionalRequester(c))
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courseId": courseID.String(), "isPublic": isPublic})
}

func (h *httpHandler) handleForkCourse(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMissingRequesterClaims.Error()})
		return
	}
	courseID, err := courses.NewCourseID(c.Param("courseID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return
	}
	forked, err := h.courses.Fork(c.Request.Context(), courseID, requester)
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCoursePayload(forked))
}

func (h *httpHandler) handleDiscover(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	result, err := h.courses.Discover(c.Request.Context(), courses.DiscoverRequest{
		Page:        page,
		Limit:       limit,
		SortBy:      courses.SortBy(c.DefaultQuery("sortBy", "recent")),
		ContentType: c.Query("type"),
		Search:      c.Query("search"),
	})
	if err != nil {
		h.respondFault(c, err)
		return
	}
	data := make([]coursePayload, 0, len(result.Data))
	for _, course := range result.Data {
		data = append(data, toCoursePayload(course))
	}
	c.JSON(http.StatusOK, gin.H{
		"data":       data,
		"pagination": result.Pagination,
	})
}

func parseOptionalSectionID(raw *string) (*sections.SectionID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	sectionID, err := sections.NewSectionID(*raw)
	if err != nil {
		return nil, err
	}
	return &sectionID, nil
}
