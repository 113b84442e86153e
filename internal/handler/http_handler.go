package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pulsefeed/social-graph-service/internal/domain"
	"github.com/pulsefeed/social-graph-service/internal/service"
	pkglog "github.com/pulsefeed/social-graph-service/pkg/log"
	"github.com/pulsefeed/social-graph-service/pkg/middleware"
	"github.com/pulsefeed/social-graph-service/pkg/response"
)

const partialWarning = "partially_applied"

// Handler handles HTTP requests for the social graph service.
type Handler struct {
	svc            service.RelationshipService
	query          service.QueryService
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(svc service.RelationshipService, query service.QueryService, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		svc:            svc,
		query:          query,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes onto the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	internal := r.Group("/internal")
	{
		internal.PUT("/users/:user_id", h.CreateAccount)
		internal.DELETE("/users/:user_id", h.DeleteAccount)
	}

	api := r.Group("/api/v1")
	{
		auth := h.authMiddleware.RequireAuth()

		users := api.Group("/users")
		{
			users.POST("/:user_id/follow-request", auth, h.SendFollowRequest)
			users.DELETE("/:user_id/follow-request", auth, h.CancelFollowRequest)
			users.POST("/:user_id/follow-request/accept", auth, h.AcceptFollowRequest)
			users.POST("/:user_id/follow-request/reject", auth, h.RejectFollowRequest)
			users.DELETE("/:user_id/follow", auth, h.Unfollow)

			users.GET("/:user_id/relationship", auth, h.GetStatus)
			users.GET("/:user_id/followers", h.GetFollowers)
			users.GET("/:user_id/following", h.GetFollowing)
			users.GET("/:user_id/follow-requests", auth, h.GetFollowRequests)
			users.GET("/:user_id/follow-requests/sent", auth, h.GetSentRequests)
		}

		api.POST("/relationships/status", auth, h.GetBatchStatus)
	}
}

// caller returns the authenticated user id and the :user_id path param,
// aborting with the right response when either is missing.
func (h *Handler) caller(c *gin.Context) (callerID, subjectID string, ok bool) {
	callerID = middleware.GetUserID(c)
	if callerID == "" {
		response.Unauthorized(c, "unauthorized")
		return "", "", false
	}
	subjectID = c.Param("user_id")
	if subjectID == "" {
		response.BadRequest(c, "user_id is required")
		return "", "", false
	}
	return callerID, subjectID, true
}

func (h *Handler) writeMutationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		response.NotFound(c, "user not found")
	case errors.Is(err, domain.ErrSelfReference):
		response.BadRequest(c, "cannot follow yourself")
	case errors.Is(err, domain.ErrInvalidTransition):
		response.UnprocessableEntity(c, "action not valid for current relationship state")
	case errors.Is(err, service.ErrConflict):
		response.Conflict(c, "concurrent update, please retry")
	default:
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("relationship mutation failed")
		response.InternalError(c, "operation failed")
	}
}

// SendFollowRequest handles POST /api/v1/users/:user_id/follow-request.
func (h *Handler) SendFollowRequest(c *gin.Context) {
	actorID, targetID, ok := h.caller(c)
	if !ok {
		return
	}

	res, err := h.svc.SendFollowRequest(c.Request.Context(), actorID, targetID)
	if err != nil {
		h.writeMutationError(c, err)
		return
	}
	if res.Partial {
		response.Accepted(c, res, partialWarning)
		return
	}
	response.Created(c, res)
}

// CancelFollowRequest handles DELETE /api/v1/users/:user_id/follow-request.
func (h *Handler) CancelFollowRequest(c *gin.Context) {
	actorID, targetID, ok := h.caller(c)
	if !ok {
		return
	}

	res, err := h.svc.CancelFollowRequest(c.Request.Context(), actorID, targetID)
	if err != nil {
		h.writeMutationError(c, err)
		return
	}
	if res.Partial {
		response.Accepted(c, res, partialWarning)
		return
	}
	response.Success(c, res)
}

// AcceptFollowRequest handles POST /api/v1/users/:user_id/follow-request/accept.
// The authenticated user approves the pending request from :user_id.
func (h *Handler) AcceptFollowRequest(c *gin.Context) {
	actorID, requesterID, ok := h.caller(c)
	if !ok {
		return
	}

	res, err := h.svc.AcceptFollowRequest(c.Request.Context(), actorID, requesterID)
	if err != nil {
		h.writeMutationError(c, err)
		return
	}
	if res.Partial {
		response.Accepted(c, res, partialWarning)
		return
	}
	response.Success(c, res)
}

// RejectFollowRequest handles POST /api/v1/users/:user_id/follow-request/reject.
func (h *Handler) RejectFollowRequest(c *gin.Context) {
	actorID, requesterID, ok := h.caller(c)
	if !ok {
		return
	}

	res, err := h.svc.RejectFollowRequest(c.Request.Context(), actorID, requesterID)
	if err != nil {
		h.writeMutationError(c, err)
		return
	}
	if res.Partial {
		response.Accepted(c, res, partialWarning)
		return
	}
	response.Success(c, res)
}

// Unfollow handles DELETE /api/v1/users/:user_id/follow.
func (h *Handler) Unfollow(c *gin.Context) {
	actorID, targetID, ok := h.caller(c)
	if !ok {
		return
	}

	res, err := h.svc.UnfollowUser(c.Request.Context(), actorID, targetID)
	if err != nil {
		h.writeMutationError(c, err)
		return
	}
	if res.Partial {
		response.Accepted(c, res, partialWarning)
		return
	}
	response.Success(c, res)
}

// GetStatus handles GET /api/v1/users/:user_id/relationship.
func (h *Handler) GetStatus(c *gin.Context) {
	actorID, targetID, ok := h.caller(c)
	if !ok {
		return
	}

	info, err := h.query.GetStatus(c.Request.Context(), actorID, targetID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("get status failed")
		response.InternalError(c, "failed to get relationship status")
		return
	}
	response.Success(c, info)
}

// batchStatusRequest is the request body for POST /api/v1/relationships/status.
type batchStatusRequest struct {
	TargetIDs []string `json:"target_ids" binding:"required"`
}

// GetBatchStatus handles POST /api/v1/relationships/status.
func (h *Handler) GetBatchStatus(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	if actorID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req batchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	results, err := h.query.GetBatchStatus(c.Request.Context(), actorID, req.TargetIDs)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("batch status failed")
		response.InternalError(c, "failed to get relationship statuses")
		return
	}
	response.Success(c, gin.H{"results": results})
}

func paging(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

func (h *Handler) writeListing(c *gin.Context, res interface{}, err error) {
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("listing failed")
		response.InternalError(c, "failed to list relationships")
		return
	}
	response.Success(c, res)
}

// GetFollowers handles GET /api/v1/users/:user_id/followers.
func (h *Handler) GetFollowers(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		response.BadRequest(c, "user_id is required")
		return
	}
	page, pageSize := paging(c)
	res, err := h.query.GetFollowers(c.Request.Context(), userID, page, pageSize)
	h.writeListing(c, res, err)
}

// GetFollowing handles GET /api/v1/users/:user_id/following.
func (h *Handler) GetFollowing(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		response.BadRequest(c, "user_id is required")
		return
	}
	page, pageSize := paging(c)
	res, err := h.query.GetFollowing(c.Request.Context(), userID, page, pageSize)
	h.writeListing(c, res, err)
}

// GetFollowRequests handles GET /api/v1/users/:user_id/follow-requests.
// Pending requests are private: only the owner may list them.
func (h *Handler) GetFollowRequests(c *gin.Context) {
	callerID, userID, ok := h.caller(c)
	if !ok {
		return
	}
	if callerID != userID {
		response.Forbidden(c, "cannot list another user's follow requests")
		return
	}
	page, pageSize := paging(c)
	res, err := h.query.GetFollowRequests(c.Request.Context(), userID, page, pageSize)
	h.writeListing(c, res, err)
}

// GetSentRequests handles GET /api/v1/users/:user_id/follow-requests/sent.
func (h *Handler) GetSentRequests(c *gin.Context) {
	callerID, userID, ok := h.caller(c)
	if !ok {
		return
	}
	if callerID != userID {
		response.Forbidden(c, "cannot list another user's sent requests")
		return
	}
	page, pageSize := paging(c)
	res, err := h.query.GetSentRequests(c.Request.Context(), userID, page, pageSize)
	h.writeListing(c, res, err)
}

// CreateAccount handles PUT /internal/users/:user_id.
func (h *Handler) CreateAccount(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		response.BadRequest(c, "user_id is required")
		return
	}

	if err := h.svc.CreateAccount(c.Request.Context(), userID); err != nil {
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Str("user_id", userID).Msg("create account failed")
		response.InternalError(c, "failed to create relationship record")
		return
	}
	response.Created(c, gin.H{"id": userID})
}

// DeleteAccount handles DELETE /internal/users/:user_id.
func (h *Handler) DeleteAccount(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		response.BadRequest(c, "user_id is required")
		return
	}

	if err := h.svc.DeleteAccount(c.Request.Context(), userID); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Str("user_id", userID).Msg("delete account failed")
		response.InternalError(c, "failed to delete relationship record")
		return
	}
	c.Status(http.StatusNoContent)
}
