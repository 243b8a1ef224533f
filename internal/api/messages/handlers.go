package messages

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/teamdesk/internal/api/auth"
	"github.com/teamdesk/internal/messaging"
	"github.com/teamdesk/internal/storage"
)

// DefaultMaxUploadBytes bounds a single attachment when no limit is configured
const DefaultMaxUploadBytes int64 = 10 << 20

// Handlers exposes the messaging service over HTTP
type Handlers struct {
	svc            *messaging.Service
	logger         zerolog.Logger
	maxUploadBytes int64
}

// NewHandlers creates the messaging handlers. maxUploadBytes <= 0 uses DefaultMaxUploadBytes.
func NewHandlers(svc *messaging.Service, logger zerolog.Logger, maxUploadBytes int64) *Handlers {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handlers{
		svc:            svc,
		logger:         logger.With().Str("component", "messages_api").Logger(),
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes mounts the endpoints on g. g must already carry the
// authentication and permission context middleware.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	initiate := auth.RequirePermission(auth.PermissionMessageInitiate)
	send := auth.RequirePermission(auth.PermissionMessageSend)
	read := auth.RequirePermission(auth.PermissionMessageRead)
	del := auth.RequirePermission(auth.PermissionMessageDelete)

	g.POST("/initiate", h.Initiate, initiate)
	g.POST("/send/:roomId", h.Send, send)
	g.GET("/sidebar", h.Sidebar, read)
	g.GET("/users", h.AvailableUsers, read)
	g.POST("/group", h.CreateGroup, initiate)
	g.PATCH("/:roomId/read", h.MarkRead, read)
	g.GET("/:roomId", h.Room, read)
	g.DELETE("/message/:messageId", h.DeleteMessage, del)
	g.DELETE("/:roomId", h.DeleteRoom, del)
	g.POST("/:roomId/members", h.AddMembers, send)
	g.DELETE("/:roomId/members/:userId", h.RemoveMember, del)
	g.PATCH("/:roomId/group", h.UpdateGroup, send)
}

type initiateRequest struct {
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

type groupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

type membersRequest struct {
	MemberIDs []string `json:"memberIds"`
}

// Initiate starts or continues the direct conversation with receiverId
func (h *Handlers) Initiate(c echo.Context) error {
	var req initiateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	res, err := h.svc.InitiateDirect(c.Request().Context(), auth.CallerID(c), req.ReceiverID, req.Message)
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	if res.Created {
		return ok(c, http.StatusCreated, "Message room created successfully.", res)
	}
	return ok(c, http.StatusCreated, "Message sent successfully.", res)
}

// Send appends a text message, or one message per uploaded file
func (h *Handlers) Send(c echo.Context) error {
	var (
		payload messaging.Payload
		files   []*storage.File
	)

	if isMultipart(c.Request()) {
		form, err := c.MultipartForm()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid multipart form")
		}
		payload.ContentType = messaging.ContentType(formValue(form, "type"))
		payload.Body = formValue(form, "message")

		headers := form.File["files"]
		if max := h.svc.Limits().MaxAttachments; len(headers) > max {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("You can upload at most %d files", max))
		}
		for _, fh := range headers {
			if fh.Size > h.maxUploadBytes {
				return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("File %s exceeds the %d byte limit", fh.Filename, h.maxUploadBytes))
			}
			f, err := fh.Open()
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "Unable to read uploaded file")
			}
			defer f.Close()
			files = append(files, &storage.File{
				Name:        fh.Filename,
				ContentType: fh.Header.Get(echo.HeaderContentType),
				Size:        fh.Size,
				Body:        f,
			})
		}
	} else if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	payload.ContentType = messaging.ContentType(strings.ToUpper(strings.TrimSpace(string(payload.ContentType))))

	res, err := h.svc.Send(c.Request().Context(), c.Param("roomId"), auth.CallerID(c), payload, files)
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	if res.Fanout {
		return ok(c, http.StatusCreated, "Message sent successfully.", res.Messages)
	}
	return ok(c, http.StatusCreated, "Message sent successfully.", res.Messages[0])
}

// Sidebar lists the caller's conversations
func (h *Handlers) Sidebar(c echo.Context) error {
	limit, err := intQuery(c, "limit")
	if err != nil {
		return err
	}
	res, err := h.svc.ListConversations(c.Request().Context(), auth.CallerID(c), c.QueryParam("search"), c.QueryParam("cursor"), limit)
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	return page(c, "Message rooms fetched successfully.", res.Conversations, res.NextCursor, res.HasMore)
}

// AvailableUsers lists users the caller can start a conversation with
func (h *Handlers) AvailableUsers(c echo.Context) error {
	pageNum, err := intQuery(c, "page")
	if err != nil {
		return err
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		return err
	}
	res, err := h.svc.ListUsers(c.Request().Context(), auth.CallerID(c), c.QueryParam("search"), pageNum, limit)
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	return ok(c, http.StatusOK, "Available users fetched successfully.", res)
}

// MarkRead marks everything in the room as read for the caller
func (h *Handlers) MarkRead(c echo.Context) error {
	n, err := h.svc.MarkRead(c.Request().Context(), c.Param("roomId"), auth.CallerID(c))
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	return ok(c, http.StatusOK, "Messages marked as read successfully.", map[string]int64{"count": n})
}

// Room returns one page of a conversation's history, newest first
func (h *Handlers) Room(c echo.Context) error {
	limit, err := intQuery(c, "limit")
	if err != nil {
		return err
	}
	res, err := h.svc.ListMessages(c.Request().Context(), c.Param("roomId"), auth.CallerID(c), c.QueryParam("cursor"), limit)
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	data := map[string]interface{}{
		"conversation": res.Conversation,
		"other_user":   res.OtherUser,
		"messages":     res.Messages,
	}
	return page(c, "Message room fetched successfully.", data, res.NextCursor, res.HasMore)
}

func (h *Handlers) DeleteMessage(c echo.Context) error {
	msg, err := h.svc.DeleteMessage(c.Request().Context(), c.Param("messageId"), auth.CallerID(c))
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	return ok(c, http.StatusOK, "Message deleted successfully.", msg)
}

func (h *Handlers) DeleteRoom(c echo.Context) error {
	conv, err := h.svc.DeleteConversation(c.Request().Context(), c.Param("roomId"), auth.CallerID(c))
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	return ok(c, http.StatusOK, "Message room deleted successfully.", conv)
}

func (h *Handlers) CreateGroup(c echo.Context) error {
	var req groupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	conv, err := h.svc.CreateGroup(c.Request().Context(), auth.CallerID(c), req.Name, req.MemberIDs)
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	return ok(c, http.StatusCreated, "Group created successfully.", conv)
}

func (h *Handlers) AddMembers(c echo.Context) error {
	var req membersRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	added, err := h.svc.AddMembers(c.Request().Context(), c.Param("roomId"), auth.CallerID(c), req.MemberIDs)
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	if added == 0 {
		return ok(c, http.StatusOK, "No new members to add.", nil)
	}
	return ok(c, http.StatusCreated, "Members added successfully.", map[string]int{"added": added})
}

func (h *Handlers) RemoveMember(c echo.Context) error {
	callerID := auth.CallerID(c)
	res, err := h.svc.RemoveMember(c.Request().Context(), c.Param("roomId"), callerID, c.Param("userId"))
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	if res.Left {
		return ok(c, http.StatusOK, "You left the group.", res)
	}
	return ok(c, http.StatusOK, "Member removed successfully.", res)
}

func (h *Handlers) UpdateGroup(c echo.Context) error {
	var patch messaging.GroupPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	conv, err := h.svc.UpdateGroup(c.Request().Context(), c.Param("roomId"), auth.CallerID(c), patch)
	if err != nil {
		return toHTTPError(c, h.logger, err)
	}
	return ok(c, http.StatusOK, "Group updated successfully.", conv)
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// intQuery parses an optional positive integer query parameter; absent means 0
func intQuery(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid %s", name))
	}
	return n, nil
}
