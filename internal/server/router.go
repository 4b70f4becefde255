package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parleylabs/parley/internal/chat"
	"github.com/parleylabs/parley/internal/groups"
	"github.com/parleylabs/parley/internal/realtime"
	"github.com/parleylabs/parley/internal/users"
)

const userIDContextKey = "parley_user_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingUsersService = errors.New("users service dependency required")
	errMissingGroups       = errors.New("groups service dependency required")
	errMissingChatService  = errors.New("chat service dependency required")
	errMissingHistory      = errors.New("history service dependency required")
	errMissingRegistry     = errors.New("session registry dependency required")
	errInvalidAuthorizaton = errors.New("authorization header missing or invalid")
)

// TokenManager issues and verifies bearer tokens. Identity is derived from a
// credential exactly once per request or connection.
type TokenManager interface {
	IssueToken(userID string) (string, int64, error)
	VerifyToken(token string) (string, error)
}

// Dependencies wires the HTTP and realtime surfaces.
type Dependencies struct {
	TokenManager TokenManager
	Users        *users.Service
	Groups       *groups.Service
	Chat         *chat.Service
	History      *chat.History
	Registry     *realtime.Registry
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin handler exposing auth, group management,
// chat send/history, and the websocket endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Groups == nil {
		return nil, errMissingGroups
	}
	if deps.Chat == nil {
		return nil, errMissingChatService
	}
	if deps.History == nil {
		return nil, errMissingHistory
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		users:    deps.Users,
		groups:   deps.Groups,
		chat:     deps.Chat,
		history:  deps.History,
		registry: deps.Registry,
		logger:   logger,
	}

	router.POST("/auth/signup", handler.handleSignup)
	router.POST("/auth/login", handler.handleLogin)

	// The websocket endpoint authenticates inside the connection (first
	// frame or access_token query parameter), not via the bearer middleware.
	router.GET("/ws", handler.handleRealtime)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/groups", handler.handleListGroups)
	protected.POST("/groups", handler.handleCreateGroup)
	protected.POST("/groups/join", handler.handleJoinGroup)
	protected.GET("/groups/:groupId", handler.handleGetGroup)
	protected.DELETE("/groups/:groupId", handler.handleDeleteGroup)
	protected.POST("/groups/:groupId/members", handler.handleAddMembers)
	protected.DELETE("/groups/:groupId/members/:userId", handler.handleRemoveMember)
	protected.POST("/groups/:groupId/invite", handler.handleRotateInvite)
	protected.POST("/groups/:groupId/messages", handler.handleSendMessage)
	protected.GET("/groups/:groupId/messages", handler.handleHistory)

	return router, nil
}

type httpHandler struct {
	tokens   TokenManager
	users    *users.Service
	groups   *groups.Service
	chat     *chat.Service
	history  *chat.History
	registry *realtime.Registry
	logger   *zap.Logger
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request signupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidInput})
		return
	}

	user, err := h.users.Register(c.Request.Context(), request.Name, request.Email, request.Password)
	if err != nil {
		h.respondError(c, "signup failed", err)
		return
	}
	h.respondWithToken(c, http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidInput})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, "login failed", err)
		return
	}
	h.respondWithToken(c, http.StatusOK, user)
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, user users.User) {
	token, expiresIn, err := h.tokens.IssueToken(user.UserID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": codeInternal})
		return
	}
	c.JSON(status, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        toUserPayload(user),
	})
}

func (h *httpHandler) handleListGroups(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	result, err := h.groups.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "list groups failed", err)
		return
	}
	payload := make([]groupPayload, 0, len(result))
	for _, group := range result {
		payload = append(payload, toGroupPayload(group))
	}
	c.JSON(http.StatusOK, gin.H{"groups": payload})
}

func (h *httpHandler) handleCreateGroup(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request createGroupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidInput})
		return
	}

	group, err := h.groups.Create(c.Request.Context(), userID, request.Name, request.Description, request.MemberIDs)
	if err != nil {
		h.respondError(c, "create group failed", err)
		return
	}
	c.JSON(http.StatusCreated, toGroupPayload(group))
}

func (h *httpHandler) handleGetGroup(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	group, members, err := h.groups.Get(c.Request.Context(), c.Param("groupId"), userID)
	if err != nil {
		h.respondError(c, "get group failed", err)
		return
	}

	detail := groupDetailPayload{groupPayload: toGroupPayload(group)}
	detail.Members = make([]memberPayload, 0, len(members))
	for _, member := range members {
		detail.Members = append(detail.Members, memberPayload{
			UserID:    member.UserID,
			AddedAtMs: member.AddedAt.UnixMilli(),
		})
	}
	c.JSON(http.StatusOK, detail)
}

func (h *httpHandler) handleDeleteGroup(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.groups.Delete(c.Request.Context(), c.Param("groupId"), userID); err != nil {
		h.respondError(c, "delete group failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddMembers(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request addMembersRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.UserIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidInput})
		return
	}
	if err := h.groups.AddMembers(c.Request.Context(), c.Param("groupId"), userID, request.UserIDs); err != nil {
		h.respondError(c, "add members failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRemoveMember(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	err := h.groups.RemoveMember(c.Request.Context(), c.Param("groupId"), userID, c.Param("userId"))
	if err != nil {
		h.respondError(c, "remove member failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRotateInvite(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	token, err := h.groups.RotateInvite(c.Request.Context(), c.Param("groupId"), userID)
	if err != nil {
		h.respondError(c, "rotate invite failed", err)
		return
	}
	c.JSON(http.StatusOK, inviteResponsePayload{InviteToken: token})
}

func (h *httpHandler) handleJoinGroup(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request joinGroupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.InviteToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidInput})
		return
	}
	group, err := h.groups.JoinByInvite(c.Request.Context(), userID, strings.TrimSpace(request.InviteToken))
	if err != nil {
		h.respondError(c, "join group failed", err)
		return
	}
	c.JSON(http.StatusOK, toGroupPayload(group))
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request sendMessageRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidInput})
		return
	}

	message, err := h.chat.Send(c.Request.Context(), c.Param("groupId"), userID, request.Body)
	if err != nil {
		h.respondError(c, "send message failed", err)
		return
	}
	c.JSON(http.StatusCreated, toMessagePayload(message))
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	cursor := int64(0)
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidInput})
			return
		}
		cursor = parsed
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidInput})
			return
		}
		limit = parsed
	}

	page, err := h.history.Backfill(c.Request.Context(), c.Param("groupId"), userID, cursor, limit)
	if err != nil {
		h.respondError(c, "history failed", err)
		return
	}

	response := historyResponsePayload{
		Messages:   make([]messagePayload, 0, len(page.Messages)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, message := range page.Messages {
		response.Messages = append(response.Messages, toMessagePayload(message))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorizaton.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorizaton.Error()})
		return
	}
	subject, err := h.tokens.VerifyToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": codeUnauthorized})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(operation, zap.Error(err))
	} else {
		h.logger.Debug(operation, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}
