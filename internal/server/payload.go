package server

import (
	"github.com/parleylabs/parley/internal/chat"
	"github.com/parleylabs/parley/internal/groups"
	"github.com/parleylabs/parley/internal/users"
)

// Wire payloads are camelCase, shaped for direct client consumption on both
// the HTTP and realtime boundaries.

type signupRequestPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	AccessToken string      `json:"accessToken"`
	ExpiresIn   int64       `json:"expiresIn"`
	TokenType   string      `json:"tokenType"`
	User        userPayload `json:"user"`
}

type userPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type createGroupRequestPayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"memberIds"`
}

type groupPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"ownerId"`
	InviteToken string `json:"inviteToken,omitempty"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

type memberPayload struct {
	UserID    string `json:"userId"`
	AddedAtMs int64  `json:"addedAtMs"`
}

type groupDetailPayload struct {
	groupPayload
	Members []memberPayload `json:"members"`
}

type addMembersRequestPayload struct {
	UserIDs []string `json:"userIds"`
}

type joinGroupRequestPayload struct {
	InviteToken string `json:"inviteToken"`
}

type inviteResponsePayload struct {
	InviteToken string `json:"inviteToken"`
}

type sendMessageRequestPayload struct {
	Body string `json:"body"`
}

type messagePayload struct {
	ID          int64  `json:"id"`
	GroupID     string `json:"groupId"`
	SenderID    string `json:"senderId"`
	Body        string `json:"body"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

type historyResponsePayload struct {
	Messages   []messagePayload `json:"messages"`
	NextCursor int64            `json:"nextCursor"`
	HasMore    bool             `json:"hasMore"`
}

func toUserPayload(user users.User) userPayload {
	return userPayload{ID: user.UserID, Name: user.Name, Email: user.Email}
}

func toGroupPayload(group groups.Group) groupPayload {
	return groupPayload{
		ID:          group.GroupID,
		Name:        group.Name,
		Description: group.Description,
		OwnerID:     group.OwnerID,
		InviteToken: group.InviteToken,
		CreatedAtMs: group.CreatedAt.UnixMilli(),
	}
}

func toMessagePayload(message chat.Message) messagePayload {
	return messagePayload{
		ID:          message.Seq,
		GroupID:     message.GroupID,
		SenderID:    message.SenderID,
		Body:        message.Body,
		CreatedAtMs: message.CreatedAt.UnixMilli(),
	}
}
