package models

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID           int64     `json:"id"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Blocked      bool      `json:"blocked"`
	Role         Role      `json:"role"`
	Friends      string    `json:"-"`
	Chats        string    `json:"-"`
	Groups       string    `json:"-"`
	Courses      string    `json:"-"`
	Alerts       string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) KindName() string { return KindUser.String() }

func (u *User) Ref() Ref { return UserRef(u.ID) }

func (u *User) Ledger(f ledger.Field) (*string, bool) {
	switch f {
	case FieldFriends:
		return &u.Friends, true
	case FieldChats:
		return &u.Chats, true
	case FieldGroups:
		return &u.Groups, true
	case FieldCourses:
		return &u.Courses, true
	case FieldAlerts:
		return &u.Alerts, true
	}
	return nil, false
}

// CheckPassword compares password against the stored blake2b digest.
func (u *User) CheckPassword(password string) bool {
	return u.PasswordHash != "" && HashPassword(password) == u.PasswordHash
}

// HashPassword returns the hex blake2b-512 digest used for stored
// credentials.
func HashPassword(password string) string {
	sum := blake2b.Sum512([]byte(password))
	return hex.EncodeToString(sum[:])
}

type CreateUserParams struct {
	DisplayName string `validate:"required,max=128"`
	Email       string `validate:"required,email,max=254"`
	Password    string `validate:"required,min=8,max=256,password"`
	Role        Role   `validate:"omitempty,oneof=user admin"`
}
