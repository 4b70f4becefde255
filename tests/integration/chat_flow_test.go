package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parleylabs/parley/internal/auth"
	"github.com/parleylabs/parley/internal/chat"
	"github.com/parleylabs/parley/internal/database"
	"github.com/parleylabs/parley/internal/groups"
	"github.com/parleylabs/parley/internal/membership"
	"github.com/parleylabs/parley/internal/realtime"
	"github.com/parleylabs/parley/internal/server"
	"github.com/parleylabs/parley/internal/users"
)

const (
	signingSecret   = "integration-secret"
	jsonContentType = "application/json"
)

type authResponse struct {
	AccessToken string `json:"accessToken"`
	User        struct {
		ID string `json:"id"`
	} `json:"user"`
}

type wireMessage struct {
	ID       int64  `json:"id"`
	GroupID  string `json:"groupId"`
	SenderID string `json:"senderId"`
	Body     string `json:"body"`
}

type realtimeFrame struct {
	Event   string       `json:"event"`
	GroupID string       `json:"groupId"`
	UserID  string       `json:"userId"`
	Code    string       `json:"code"`
	Message *wireMessage `json:"message"`
}

// TestGroupChatFlow exercises the whole pipeline: accounts, group creation,
// live websocket delivery for online members, and history backfill for a
// member who was offline while the messages were sent.
func TestGroupChatFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite("file:integration_chat?mode=memory&cache=shared", zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        "parley-auth",
		Audience:      "parley-api",
		TokenTTL:      time.Hour,
	})
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build users service: %v", err)
	}
	groupService, err := groups.NewService(groups.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build groups service: %v", err)
	}
	oracle, err := membership.NewOracle(membership.OracleConfig{
		Source: membership.GroupSource{Groups: groupService},
	})
	if err != nil {
		testContext.Fatalf("failed to build membership oracle: %v", err)
	}
	store, err := chat.NewStore(chat.StoreConfig{Database: db, Directory: groupService})
	if err != nil {
		testContext.Fatalf("failed to build message store: %v", err)
	}
	registry, err := realtime.NewRegistry(realtime.RegistryConfig{Membership: oracle})
	if err != nil {
		testContext.Fatalf("failed to build session registry: %v", err)
	}
	dispatcher := realtime.NewDispatcher(registry, zap.NewNop())
	chatService, err := chat.NewService(chat.ServiceConfig{
		Store:      store,
		Membership: oracle,
		Publisher:  dispatcher,
	})
	if err != nil {
		testContext.Fatalf("failed to build chat service: %v", err)
	}
	history, err := chat.NewHistory(chat.HistoryConfig{Store: store, Membership: oracle})
	if err != nil {
		testContext.Fatalf("failed to build history service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Users:        userService,
		Groups:       groupService,
		Chat:         chatService,
		History:      history,
		Registry:     registry,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	alice := mustSignup(testContext, testServer, "Alice", "alice@example.com")
	bob := mustSignup(testContext, testServer, "Bob", "bob@example.com")
	carol := mustSignup(testContext, testServer, "Carol", "carol@example.com")

	groupID := mustCreateGroup(testContext, testServer, alice.AccessToken, "trip-planning",
		bob.User.ID, carol.User.ID)

	// Alice and Bob are online; Carol stays offline for now.
	aliceConn := mustDialRealtime(testContext, testServer, alice.AccessToken)
	defer aliceConn.Close()
	bobConn := mustDialRealtime(testContext, testServer, bob.AccessToken)
	defer bobConn.Close()
	mustJoin(testContext, aliceConn, groupID)
	mustJoin(testContext, bobConn, groupID)

	for _, body := range []string{"flights booked", "hotel next"} {
		frame := map[string]string{"event": "sendMessage", "groupId": groupID, "body": body}
		if err := aliceConn.WriteJSON(frame); err != nil {
			testContext.Fatalf("failed to send message frame: %v", err)
		}
	}

	first := mustReceive(testContext, bobConn)
	second := mustReceive(testContext, bobConn)
	if first.Body != "flights booked" || second.Body != "hotel next" {
		testContext.Fatalf("live delivery out of order: %q then %q", first.Body, second.Body)
	}
	if second.ID <= first.ID {
		testContext.Fatalf("delivery ids not ascending: %d then %d", first.ID, second.ID)
	}

	// Carol comes online and reads the messages she missed.
	historyURL := fmt.Sprintf("%s/groups/%s/messages?cursor=0", testServer.URL, groupID)
	historyReq, _ := http.NewRequest(http.MethodGet, historyURL, nil)
	historyReq.Header.Set("Authorization", "Bearer "+carol.AccessToken)
	historyResp, err := http.DefaultClient.Do(historyReq)
	if err != nil {
		testContext.Fatalf("history request failed: %v", err)
	}
	defer historyResp.Body.Close()
	if historyResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected history status: %d", historyResp.StatusCode)
	}
	var page struct {
		Messages   []wireMessage `json:"messages"`
		NextCursor int64         `json:"nextCursor"`
		HasMore    bool          `json:"hasMore"`
	}
	if err := json.NewDecoder(historyResp.Body).Decode(&page); err != nil {
		testContext.Fatalf("failed to decode history response: %v", err)
	}
	if len(page.Messages) != 2 {
		testContext.Fatalf("backfill returned %d messages, want 2", len(page.Messages))
	}
	if page.Messages[0].Body != "flights booked" || page.Messages[1].Body != "hotel next" {
		testContext.Fatalf("backfill out of order: %q then %q", page.Messages[0].Body, page.Messages[1].Body)
	}
	if page.HasMore {
		testContext.Fatalf("backfill reports more pages after the full transcript")
	}
	if page.NextCursor != page.Messages[1].ID {
		testContext.Fatalf("next cursor %d, want last seq %d", page.NextCursor, page.Messages[1].ID)
	}
}

func mustSignup(testContext *testing.T, testServer *httptest.Server, name, email string) authResponse {
	testContext.Helper()
	payload, _ := json.Marshal(map[string]string{
		"name":     name,
		"email":    email,
		"password": "integration-password",
	})
	resp, err := http.Post(testServer.URL+"/auth/signup", jsonContentType, bytes.NewReader(payload))
	if err != nil {
		testContext.Fatalf("signup request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected signup status: %d", resp.StatusCode)
	}
	var result authResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		testContext.Fatalf("failed to decode signup response: %v", err)
	}
	return result
}

func mustCreateGroup(testContext *testing.T, testServer *httptest.Server, token, name string, memberIDs ...string) string {
	testContext.Helper()
	payload, _ := json.Marshal(map[string]any{
		"name":      name,
		"memberIds": memberIDs,
	})
	req, _ := http.NewRequest(http.MethodPost, testServer.URL+"/groups", bytes.NewReader(payload))
	req.Header.Set("Content-Type", jsonContentType)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		testContext.Fatalf("create group request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected create group status: %d", resp.StatusCode)
	}
	var group struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&group); err != nil {
		testContext.Fatalf("failed to decode group response: %v", err)
	}
	return group.ID
}

func mustDialRealtime(testContext *testing.T, testServer *httptest.Server, token string) *websocket.Conn {
	testContext.Helper()
	url := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		testContext.Fatalf("failed to dial realtime endpoint: %v", err)
	}
	frame := mustReadFrame(testContext, conn)
	if frame.Event != "authenticated" {
		testContext.Fatalf("expected authenticated frame, got %q", frame.Event)
	}
	return conn
}

func mustJoin(testContext *testing.T, conn *websocket.Conn, groupID string) {
	testContext.Helper()
	if err := conn.WriteJSON(map[string]string{"event": "joinGroup", "groupId": groupID}); err != nil {
		testContext.Fatalf("failed to send join frame: %v", err)
	}
	frame := mustReadFrame(testContext, conn)
	if frame.Event != "joinedGroup" || frame.GroupID != groupID {
		testContext.Fatalf("expected joinedGroup for %q, got %+v", groupID, frame)
	}
}

func mustReceive(testContext *testing.T, conn *websocket.Conn) wireMessage {
	testContext.Helper()
	for {
		frame := mustReadFrame(testContext, conn)
		if frame.Event != "receiveMessage" {
			continue
		}
		if frame.Message == nil {
			testContext.Fatalf("delivery frame missing message payload: %+v", frame)
		}
		return *frame.Message
	}
}

func mustReadFrame(testContext *testing.T, conn *websocket.Conn) realtimeFrame {
	testContext.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		testContext.Fatalf("failed to set read deadline: %v", err)
	}
	var frame realtimeFrame
	if err := conn.ReadJSON(&frame); err != nil {
		testContext.Fatalf("failed to read frame: %v", err)
	}
	return frame
}
