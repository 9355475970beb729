package postgres

import (
	"fmt"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/models"
)

type table struct {
	name    string
	columns string
	scan    func(Row) (models.Entity, error)
	// ledgers whitelists the columns SaveLedger may write.
	ledgers map[ledger.Field]string
}

var tables = map[models.EntityKind]table{
	models.KindUser: {
		name:    "users",
		columns: "id, display_name, email, password_hash, blocked, role, friends, chats, groups, courses, alerts, created_at",
		scan:    scanUser,
		ledgers: map[ledger.Field]string{
			models.FieldFriends: "friends",
			models.FieldChats:   "chats",
			models.FieldGroups:  "groups",
			models.FieldCourses: "courses",
			models.FieldAlerts:  "alerts",
		},
	},
	models.KindGroup: {
		name:    "groups",
		columns: "id, title, description, openness, admin_id, moderators, members, groups, courses, chats, alerts, created_at",
		scan:    scanGroup,
		ledgers: map[ledger.Field]string{
			models.FieldModerators: "moderators",
			models.FieldMembers:    "members",
			models.FieldGroups:     "groups",
			models.FieldCourses:    "courses",
			models.FieldChats:      "chats",
			models.FieldAlerts:     "alerts",
		},
	},
	models.KindCourse: {
		name:    "courses",
		columns: "id, title, description, openness, admin_id, moderators, members, alerts, created_at",
		scan:    scanCourse,
		ledgers: map[ledger.Field]string{
			models.FieldModerators: "moderators",
			models.FieldMembers:    "members",
			models.FieldAlerts:     "alerts",
		},
	},
	models.KindChat: {
		name:    "chats",
		columns: "id, type, title, admin_id, moderators, members, messages, COALESCE(personal_key, ''), created_at",
		scan:    scanChat,
		ledgers: map[ledger.Field]string{
			models.FieldModerators: "moderators",
			models.FieldMembers:    "members",
			models.FieldMessages:   "messages",
		},
	},
	models.KindMessage: {
		name:    "messages",
		columns: "id, chat_id, author_id, text, created_at",
		scan:    scanMessage,
	},
	models.KindAlert: {
		name:    "alerts",
		columns: "id, type, creator_id, creator_kind, recipients, recipient_kind, subject_id, text, created_at",
		scan:    scanAlert,
		ledgers: map[ledger.Field]string{
			models.FieldRecipients: "recipients",
		},
	},
}

func tableFor(kind models.EntityKind) (table, error) {
	tbl, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("postgres: no table for %s", kind)
	}
	return tbl, nil
}

func scanUser(row Row) (models.Entity, error) {
	u := &models.User{}
	var role string
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Blocked, &role,
		&u.Friends, &u.Chats, &u.Groups, &u.Courses, &u.Alerts, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return u, nil
}

func scanGroup(row Row) (models.Entity, error) {
	g := &models.Group{}
	var openness string
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &openness, &g.Admin,
		&g.Moderators, &g.Members, &g.Groups, &g.Courses, &g.Chats, &g.Alerts, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Openness = models.Openness(openness)
	return g, nil
}

func scanCourse(row Row) (models.Entity, error) {
	c := &models.Course{}
	var openness string
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &openness, &c.Admin,
		&c.Moderators, &c.Members, &c.Alerts, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Openness = models.Openness(openness)
	return c, nil
}

func scanChat(row Row) (models.Entity, error) {
	c := &models.Chat{}
	var chatType string
	if err := row.Scan(&c.ID, &chatType, &c.Title, &c.Admin,
		&c.Moderators, &c.Members, &c.Messages, &c.PersonalKey, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Type = models.ChatType(chatType)
	return c, nil
}

func scanMessage(row Row) (models.Entity, error) {
	m := &models.Message{}
	if err := row.Scan(&m.ID, &m.ChatID, &m.AuthorID, &m.Text, &m.CreatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

func scanAlert(row Row) (models.Entity, error) {
	a := &models.Alert{}
	var alertType, creatorKind, recipientKind int
	if err := row.Scan(&a.ID, &alertType, &a.CreatorID, &creatorKind,
		&a.Recipients, &recipientKind, &a.SubjectID, &a.Text, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Type = models.AlertType(alertType)
	a.CreatorKind = models.EntityKind(creatorKind)
	a.RecipientKind = models.EntityKind(recipientKind)
	a.State = models.AlertPending
	return a, nil
}
