package handler

import (
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jengzang/hexmap-backend-go/internal/models"
	"github.com/jengzang/hexmap-backend-go/internal/render"
	"github.com/jengzang/hexmap-backend-go/internal/service"
	"github.com/jengzang/hexmap-backend-go/pkg/response"
)

const writeWait = 10 * time.Second

// SessionHandler handles client map sessions and their draws
type SessionHandler struct {
	store    *service.SessionStore
	upgrader websocket.Upgrader
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(store *service.SessionStore) *SessionHandler {
	return &SessionHandler{
		store: store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // origins are enforced by the CORS middleware
			},
		},
	}
}

type createSessionRequest struct {
	Layer string `json:"layer" binding:"required"`
}

// CreateSession handles POST /api/v1/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	m, err := h.store.Create(req.Layer)
	if err != nil {
		response.Error(c, statusFor(err), "Failed to create session", err)
		return
	}
	response.Success(c, m)
}

// ListSessions handles GET /api/v1/sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions := h.store.List()
	response.Success(c, gin.H{
		"data":  sessions,
		"count": len(sessions),
	})
}

// GetSession handles GET /api/v1/sessions/:id and lists the shapes the
// client holds
func (h *SessionHandler) GetSession(c *gin.Context) {
	m, err := h.store.Get(c.Param("id"))
	if err != nil {
		response.Error(c, statusFor(err), "Failed to get session", err)
		return
	}
	response.Success(c, m.Info(true))
}

// DeleteSession handles DELETE /api/v1/sessions/:id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	if err := h.store.Delete(c.Param("id")); err != nil {
		response.Error(c, statusFor(err), "Failed to delete session", err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id")})
}

// Draw handles POST /api/v1/sessions/:id/draw and returns every frame of
// one draw
func (h *SessionHandler) Draw(c *gin.Context) {
	m, err := h.store.Get(c.Param("id"))
	if err != nil {
		response.Error(c, statusFor(err), "Failed to get session", err)
		return
	}
	var req models.ViewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid viewport", err)
		return
	}
	frames, err := m.DrawAll(req)
	if err != nil {
		response.Error(c, statusFor(err), "Failed to draw", err)
		return
	}
	response.Success(c, gin.H{
		"data":  frames,
		"count": len(frames),
	})
}

type streamError struct {
	Error string `json:"error"`
}

// Stream handles GET /api/v1/sessions/:id/stream. Every viewport message
// starts a draw; each chunk is sent as one frame message, and a newer
// viewport supersedes the draw in progress.
func (h *SessionHandler) Stream(c *gin.Context) {
	m, err := h.store.Get(c.Param("id"))
	if err != nil {
		response.Error(c, statusFor(err), "Failed to get session", err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).WithField("session", m.ID).Warn("[Stream] upgrade failed")
		return
	}
	defer conn.Close()

	requests := make(chan models.ViewportRequest, 1)
	go readViewports(conn, requests)

	var task *render.DrawTask
	for {
		if task == nil {
			req, ok := <-requests
			if !ok {
				return
			}
			task = h.startDraw(conn, m, req)
			continue
		}

		select {
		case req, ok := <-requests:
			if !ok {
				return
			}
			task = h.startDraw(conn, m, req)
			continue
		default:
		}

		frame, more := task.Step()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			log.WithError(err).WithField("session", m.ID).Debug("[Stream] write failed")
			return
		}
		if !more {
			task = nil
		}
	}
}

func (h *SessionHandler) startDraw(conn *websocket.Conn, m *service.MapSession, req models.ViewportRequest) *render.DrawTask {
	task, err := m.Draw(req)
	if err != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(streamError{Error: err.Error()})
		return nil
	}
	return task
}

// readViewports forwards viewport messages, keeping only the newest one
// when the draw loop falls behind. It closes out when the peer goes away.
func readViewports(conn *websocket.Conn, out chan models.ViewportRequest) {
	defer close(out)
	for {
		var req models.ViewportRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		for {
			select {
			case out <- req:
			default:
				select {
				case <-out:
				default:
				}
				continue
			}
			break
		}
	}
}
