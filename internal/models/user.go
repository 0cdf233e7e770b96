package models

import (
	"fmt"
	"strings"

	"github.com/desertthunder/ytsync/internal/shared"
)

// User owns linked playlists.
type User struct {
	base
	email string
	name  string
}

// NewUser creates a user with the given email and display name.
func NewUser(email, name string) *User {
	return &User{base: newBase(), email: strings.TrimSpace(email), name: name}
}

func (u *User) Email() string { return u.email }
func (u *User) Name() string  { return u.name }

func (u *User) SetName(name string) { u.name = name }

func (u *User) Validate() error {
	if u.email == "" {
		return fmt.Errorf("%w: email is required", shared.ErrInvalidInput)
	}
	if !strings.Contains(u.email, "@") {
		return fmt.Errorf("%w: invalid email %q", shared.ErrInvalidInput, u.email)
	}
	return nil
}
