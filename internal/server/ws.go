package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parleylabs/parley/internal/realtime"
)

// Realtime events. Client to server: authenticate, joinGroup, leaveGroup,
// sendMessage. Server to client: authenticated, joinedGroup, leftGroup, ack,
// receiveMessage, error.
const (
	wsEventAuthenticate   = "authenticate"
	wsEventAuthenticated  = "authenticated"
	wsEventJoinGroup      = "joinGroup"
	wsEventJoinedGroup    = "joinedGroup"
	wsEventLeaveGroup     = "leaveGroup"
	wsEventLeftGroup      = "leftGroup"
	wsEventSendMessage    = "sendMessage"
	wsEventReceiveMessage = "receiveMessage"
	wsEventAck            = "ack"
	wsEventError          = "error"
)

const (
	wsAuthDeadline  = 10 * time.Second
	wsReadDeadline  = 90 * time.Second
	wsWriteTimeout  = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsReadLimit     = int64(16 << 10)
	wsCloseDeadline = time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Tokens, not origins, gate access; the HTTP layer already allows any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsClientFrame struct {
	Event   string `json:"event"`
	Token   string `json:"token,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	Body    string `json:"body,omitempty"`
}

type wsServerFrame struct {
	Event     string          `json:"event"`
	GroupID   string          `json:"groupId,omitempty"`
	SenderID  string          `json:"senderId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Message   *messagePayload `json:"message,omitempty"`
	MessageID int64           `json:"messageId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Code      string          `json:"code,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// wsSocket serializes writes. The read loop answers acks and errors while the
// pump goroutine writes deliveries; gorilla permits one writer at a time.
type wsSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *wsSocket) writeFrame(frame wsServerFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(frame)
}

// handleRealtime is the connection-facing coordinator. Per-connection states:
// connected (unauthenticated) -> authenticated -> subscribed per group ->
// disconnected. Group-level failures answer with an error frame and keep the
// connection; authentication failure closes it.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	socket := &wsSocket{conn: conn}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)

	userID, err := h.authenticateSocket(c, socket)
	if err != nil {
		_ = socket.writeFrame(wsServerFrame{Event: wsEventError, Code: codeUnauthorized})
		deadline := time.Now().Add(wsCloseDeadline)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, codeUnauthorized), deadline)
		return
	}

	session := h.registry.Register(userID)
	defer h.registry.Deregister(session.ID)

	if err := socket.writeFrame(wsServerFrame{Event: wsEventAuthenticated, UserID: userID}); err != nil {
		return
	}

	go h.deliveryPump(socket, session)

	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	for {
		var frame wsClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			h.logger.Debug("websocket read ended",
				zap.String("session_id", session.ID),
				zap.Error(err))
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		switch frame.Event {
		case wsEventJoinGroup:
			h.handleSocketJoin(c, socket, session, frame.GroupID)
		case wsEventLeaveGroup:
			h.registry.Leave(session.ID, frame.GroupID)
			_ = socket.writeFrame(wsServerFrame{Event: wsEventLeftGroup, GroupID: frame.GroupID})
		case wsEventSendMessage:
			h.handleSocketSend(c, socket, session, frame)
		default:
			_ = socket.writeFrame(wsServerFrame{Event: wsEventError, Code: codeInvalidInput})
		}
	}
}

// authenticateSocket resolves the connection's user from the access_token
// query parameter, or failing that from a first authenticate frame sent
// within the auth deadline.
func (h *httpHandler) authenticateSocket(c *gin.Context, socket *wsSocket) (string, error) {
	if token := strings.TrimSpace(c.Query("access_token")); token != "" {
		return h.tokens.VerifyToken(token)
	}

	_ = socket.conn.SetReadDeadline(time.Now().Add(wsAuthDeadline))
	var frame wsClientFrame
	if err := socket.conn.ReadJSON(&frame); err != nil {
		return "", err
	}
	if frame.Event != wsEventAuthenticate {
		return "", errInvalidAuthorizaton
	}
	return h.tokens.VerifyToken(strings.TrimSpace(frame.Token))
}

func (h *httpHandler) handleSocketJoin(c *gin.Context, socket *wsSocket, session *realtime.Session, groupID string) {
	if err := h.registry.Join(c.Request.Context(), session.ID, groupID); err != nil {
		h.writeSocketError(socket, groupID, err)
		return
	}
	_ = socket.writeFrame(wsServerFrame{Event: wsEventJoinedGroup, GroupID: groupID})
}

func (h *httpHandler) handleSocketSend(c *gin.Context, socket *wsSocket, session *realtime.Session, frame wsClientFrame) {
	message, err := h.chat.Send(c.Request.Context(), frame.GroupID, session.UserID, frame.Body)
	if err != nil {
		h.writeSocketError(socket, frame.GroupID, err)
		return
	}
	_ = socket.writeFrame(wsServerFrame{
		Event:     wsEventAck,
		GroupID:   frame.GroupID,
		MessageID: message.Seq,
	})
}

// deliveryPump forwards fan-out deliveries to the connection in arrival
// order and keeps the connection alive with pings. A write failure ends the
// pump; the read loop notices the broken connection and deregisters.
func (h *httpHandler) deliveryPump(socket *wsSocket, session *realtime.Session) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case delivery := <-session.Deliveries():
			payload := toMessagePayload(delivery.Message)
			frame := wsServerFrame{
				Event:     wsEventReceiveMessage,
				GroupID:   delivery.GroupID,
				SenderID:  delivery.SenderID,
				Timestamp: delivery.Timestamp.UnixMilli(),
				Message:   &payload,
			}
			if err := socket.writeFrame(frame); err != nil {
				h.logger.Debug("realtime write failed",
					zap.String("session_id", session.ID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := socket.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-session.Done():
			return
		}
	}
}

func (h *httpHandler) writeSocketError(socket *wsSocket, groupID string, err error) {
	_, code := statusForError(err)
	_ = socket.writeFrame(wsServerFrame{
		Event:     wsEventError,
		GroupID:   groupID,
		Code:      code,
		Retryable: retryable(err),
	})
}
