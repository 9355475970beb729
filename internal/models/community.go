package models

import (
	"time"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
)

// Openness decides whether joining a group or course needs an application.
type Openness string

const (
	Opened Openness = "opened"
	Closed Openness = "closed"
)

// Community is the behaviour shared by groups and courses.
type Community interface {
	Entity
	AdminID() int64
	Access() Openness
	Title() string
}

type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"title"`
	Description string    `json:"description"`
	Openness    Openness  `json:"openness"`
	Admin       int64     `json:"admin"`
	Moderators  string    `json:"-"`
	Members     string    `json:"-"`
	Groups      string    `json:"-"`
	Courses     string    `json:"-"`
	Chats       string    `json:"-"`
	Alerts      string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (g *Group) KindName() string { return KindGroup.String() }
func (g *Group) Ref() Ref         { return GroupRef(g.ID) }
func (g *Group) AdminID() int64   { return g.Admin }
func (g *Group) Access() Openness { return g.Openness }
func (g *Group) Title() string    { return g.Name }

func (g *Group) Ledger(f ledger.Field) (*string, bool) {
	switch f {
	case FieldModerators:
		return &g.Moderators, true
	case FieldMembers:
		return &g.Members, true
	case FieldGroups:
		return &g.Groups, true
	case FieldCourses:
		return &g.Courses, true
	case FieldChats:
		return &g.Chats, true
	case FieldAlerts:
		return &g.Alerts, true
	}
	return nil, false
}

type Course struct {
	ID          int64     `json:"id"`
	Name        string    `json:"title"`
	Description string    `json:"description"`
	Openness    Openness  `json:"openness"`
	Admin       int64     `json:"admin"`
	Moderators  string    `json:"-"`
	Members     string    `json:"-"`
	Alerts      string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c *Course) KindName() string { return KindCourse.String() }
func (c *Course) Ref() Ref         { return CourseRef(c.ID) }
func (c *Course) AdminID() int64   { return c.Admin }
func (c *Course) Access() Openness { return c.Openness }
func (c *Course) Title() string    { return c.Name }

func (c *Course) Ledger(f ledger.Field) (*string, bool) {
	switch f {
	case FieldModerators:
		return &c.Moderators, true
	case FieldMembers:
		return &c.Members, true
	case FieldAlerts:
		return &c.Alerts, true
	}
	return nil, false
}

// IsManager reports whether userID is the admin or a moderator of c.
func IsManager(c Community, userID int64) (bool, error) {
	if userID > 0 && c.AdminID() == userID {
		return true, nil
	}
	mods, err := ledger.Load(c, FieldModerators)
	if err != nil {
		return false, err
	}
	return mods.Contains(userID), nil
}

// IsAffiliated reports whether userID is already the admin, a moderator or
// a member of c.
func IsAffiliated(c Community, userID int64) (bool, error) {
	manager, err := IsManager(c, userID)
	if err != nil || manager {
		return manager, err
	}
	members, err := ledger.Load(c, FieldMembers)
	if err != nil {
		return false, err
	}
	return members.Contains(userID), nil
}
