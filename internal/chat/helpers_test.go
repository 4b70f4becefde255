package chat

import (
	"context"
	"fmt"
	"testing"

	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDBCounter int

type stubDirectory struct {
	known map[string]bool
}

func (d stubDirectory) Exists(_ context.Context, groupID string) (bool, error) {
	return d.known[groupID], nil
}

type stubMembership struct {
	denied map[string]error
}

func (m stubMembership) Require(_ context.Context, userID, groupID string) error {
	return m.denied[userID+"/"+groupID]
}

type recordingPublisher struct {
	published []Message
}

func (p *recordingPublisher) Publish(message Message) {
	p.published = append(p.published, message)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBCounter++
	dsn := fmt.Sprintf("file:chat_test_%d?mode=memory&cache=shared", testDBCounter)
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Message{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, groupIDs ...string) *Store {
	t.Helper()
	known := make(map[string]bool, len(groupIDs))
	for _, groupID := range groupIDs {
		known[groupID] = true
	}
	store, err := NewStore(StoreConfig{
		Database:  openTestDB(t),
		Directory: stubDirectory{known: known},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func mustAppend(t *testing.T, store *Store, groupID, senderID, body string) Message {
	t.Helper()
	message, err := store.Append(context.Background(), groupID, senderID, body)
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	return message
}
