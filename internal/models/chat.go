package models

import (
	"sort"
	"time"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
)

type ChatType string

const (
	ChatPersonal ChatType = "personal"
	ChatGroup    ChatType = "group"
)

type Chat struct {
	ID          int64     `json:"id"`
	Type        ChatType  `json:"type"`
	Title       string    `json:"title"`
	Admin       int64     `json:"admin"`
	Moderators  string    `json:"-"`
	Members     string    `json:"-"`
	Messages    string    `json:"-"`
	PersonalKey string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c *Chat) KindName() string { return KindChat.String() }
func (c *Chat) Ref() Ref         { return ChatRef(c.ID) }

func (c *Chat) Ledger(f ledger.Field) (*string, bool) {
	switch f {
	case FieldModerators:
		return &c.Moderators, true
	case FieldMembers:
		return &c.Members, true
	case FieldMessages:
		return &c.Messages, true
	}
	return nil, false
}

func (c *Chat) IsAdmin(userID int64) bool {
	return userID > 0 && c.Admin == userID
}

func (c *Chat) IsModerator(userID int64) (bool, error) {
	mods, err := ledger.Load(c, FieldModerators)
	if err != nil {
		return false, err
	}
	return mods.Contains(userID), nil
}

func (c *Chat) IsMember(userID int64) (bool, error) {
	members, err := ledger.Load(c, FieldMembers)
	if err != nil {
		return false, err
	}
	return members.Contains(userID), nil
}

// PersonalChatKey is the canonical lookup key for the personal chat between
// a and b: the ledger encoding of the sorted pair.
func PersonalChatKey(a, b int64) string {
	pair := []int64{a, b}
	sort.Slice(pair, func(i, j int) bool { return pair[i] < pair[j] })
	return ledger.Encode(pair)
}

type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	AuthorID  int64     `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Message) KindName() string { return KindMessage.String() }
func (m *Message) Ref() Ref         { return MessageRef(m.ID) }

// Ledger reports false for every field: messages own no relations.
func (m *Message) Ledger(ledger.Field) (*string, bool) { return nil, false }
