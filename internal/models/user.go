// Package models defines the persisted entities and the error vocabulary of the board.
package models

import "time"

// User is an account holder. Only the auth layer reads the password hash.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;size:254;not null" json:"email"`
	Password  string    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity is the signed-in user as seen by the rest of the system.
// A nil *Identity means nobody is signed in.
type Identity struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
}

// Identity returns the public view of the user.
func (u *User) Identity() *Identity {
	return &Identity{ID: u.ID, Email: u.Email}
}
