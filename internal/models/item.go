package models

import (
	"time"

	"gorm.io/gorm"
)

// Item types
const (
	ItemTypeLost  = "lost"
	ItemTypeFound = "found"
)

// Item is a lost or found report. It is never edited; only its owner removes it.
type Item struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Type         string         `gorm:"size:10;not null;index" json:"type"`
	Title        string         `gorm:"size:200;not null" json:"title"`
	Description  string         `gorm:"type:text;not null" json:"description"`
	Location     string         `gorm:"size:200;not null" json:"location"`
	ImageURL     string         `json:"image_url,omitempty"`
	ContactName  string         `gorm:"size:100;not null" json:"contact_name"`
	ContactPhone string         `gorm:"size:30;not null" json:"contact_phone"`
	OwnerID      uint           `gorm:"not null;index" json:"user_id"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsValidItemType reports whether t is lost or found.
func IsValidItemType(t string) bool {
	return t == ItemTypeLost || t == ItemTypeFound
}

// ImageUpload carries the raw bytes of an optional item photo.
type ImageUpload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// NewItem is the input for posting an item. OwnerID comes from the session, never the form.
type NewItem struct {
	Type         string       `json:"type"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Location     string       `json:"location"`
	ContactName  string       `json:"contact_name"`
	ContactPhone string       `json:"contact_phone"`
	OwnerID      uint         `json:"-"`
	Image        *ImageUpload `json:"-"`
}
