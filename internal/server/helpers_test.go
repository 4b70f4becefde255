package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleylabs/parley/internal/auth"
	"github.com/parleylabs/parley/internal/chat"
	"github.com/parleylabs/parley/internal/database"
	"github.com/parleylabs/parley/internal/groups"
	"github.com/parleylabs/parley/internal/membership"
	"github.com/parleylabs/parley/internal/realtime"
	"github.com/parleylabs/parley/internal/users"
)

var serverTestDBCounter int

// testEnvironment is the fully wired backend behind an httptest server:
// token manager, account and group services, membership oracle, message
// store, registry, dispatcher, and the gin handler.
type testEnvironment struct {
	server   *httptest.Server
	database *gorm.DB
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	serverTestDBCounter++
	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", serverTestDBCounter)
	db, err := database.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	tokens := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte("server-test-secret"),
		Issuer:        "parley-test",
		Audience:      "parley-test",
		TokenTTL:      time.Hour,
	})

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	groupService, err := groups.NewService(groups.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct groups service: %v", err)
	}

	oracle, err := membership.NewOracle(membership.OracleConfig{
		Source: membership.GroupSource{Groups: groupService},
		// Short TTL so membership changes made mid-test are observed.
		CacheTTL: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct membership oracle: %v", err)
	}

	store, err := chat.NewStore(chat.StoreConfig{
		Database:  db,
		Directory: groupService,
	})
	if err != nil {
		t.Fatalf("failed to construct message store: %v", err)
	}

	registry, err := realtime.NewRegistry(realtime.RegistryConfig{Membership: oracle})
	if err != nil {
		t.Fatalf("failed to construct session registry: %v", err)
	}
	dispatcher := realtime.NewDispatcher(registry, zap.NewNop())

	chatService, err := chat.NewService(chat.ServiceConfig{
		Store:      store,
		Membership: oracle,
		Publisher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct chat service: %v", err)
	}
	history, err := chat.NewHistory(chat.HistoryConfig{
		Store:      store,
		Membership: oracle,
	})
	if err != nil {
		t.Fatalf("failed to construct history service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: tokens,
		Users:        userService,
		Groups:       groupService,
		Chat:         chatService,
		History:      history,
		Registry:     registry,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	env := &testEnvironment{
		server:   httptest.NewServer(handler),
		database: db,
	}
	t.Cleanup(env.server.Close)
	return env
}

func (env *testEnvironment) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := env.server.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return response
}

func decodeBody(t *testing.T, response *http.Response, target any) {
	t.Helper()
	defer response.Body.Close()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

// signup registers an account and returns its id and access token.
func (env *testEnvironment) signup(t *testing.T, name, email string) (string, string) {
	t.Helper()
	response := env.request(t, http.MethodPost, "/auth/signup", "", signupRequestPayload{
		Name:     name,
		Email:    email,
		Password: "long-enough-password",
	})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("signup returned status %d", response.StatusCode)
	}
	var payload authResponsePayload
	decodeBody(t, response, &payload)
	if payload.AccessToken == "" {
		t.Fatalf("signup returned an empty access token")
	}
	return payload.User.ID, payload.AccessToken
}

// createGroup creates a group owned by the token's user with the given members.
func (env *testEnvironment) createGroup(t *testing.T, token, name string, memberIDs ...string) groupPayload {
	t.Helper()
	response := env.request(t, http.MethodPost, "/groups", token, createGroupRequestPayload{
		Name:      name,
		MemberIDs: memberIDs,
	})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("create group returned status %d", response.StatusCode)
	}
	var payload groupPayload
	decodeBody(t, response, &payload)
	return payload
}

func (env *testEnvironment) messageCount(t *testing.T, groupID string) int64 {
	t.Helper()
	var count int64
	err := env.database.Model(&chat.Message{}).Where("group_id = ?", groupID).Count(&count).Error
	if err != nil {
		t.Fatalf("failed to count messages: %v", err)
	}
	return count
}
