package models

import "time"

// Content records behind the public informational pages. Each type is one of
// the five categories covered by the global search fan-out.

type NewsArticle struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Slug        string     `gorm:"size:150;uniqueIndex" json:"slug"`
	Title       string     `gorm:"size:200" json:"title"`
	Summary     string     `gorm:"size:500" json:"summary"`
	Body        string     `gorm:"type:text" json:"body"`
	ImageURL    string     `gorm:"size:500" json:"image_url"`
	Published   bool       `gorm:"index" json:"published"`
	PublishedAt *time.Time `gorm:"index" json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Event struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Slug        string     `gorm:"size:150;uniqueIndex" json:"slug"`
	Title       string     `gorm:"size:200" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Location    string     `gorm:"size:300" json:"location"`
	StartsAt    time.Time  `gorm:"index" json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Published   bool       `gorm:"index" json:"published"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Clergy struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:200" json:"name"`
	Title     string    `gorm:"size:100" json:"title"`
	Bio       string    `gorm:"type:text" json:"bio"`
	PhotoURL  string    `gorm:"size:500" json:"photo_url"`
	ParishID  *uint     `gorm:"index" json:"parish_id,omitempty"`
	Active    bool      `gorm:"index" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Parish struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Slug      string    `gorm:"size:150;uniqueIndex" json:"slug"`
	Name      string    `gorm:"size:200" json:"name"`
	Address   string    `gorm:"size:300" json:"address"`
	City      string    `gorm:"size:100" json:"city"`
	Phone     string    `gorm:"size:30" json:"phone"`
	Email     string    `gorm:"size:200" json:"email"`
	Active    bool      `gorm:"index" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type GalleryAlbum struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Slug        string    `gorm:"size:150;uniqueIndex" json:"slug"`
	Title       string    `gorm:"size:200" json:"title"`
	Description string    `gorm:"size:500" json:"description"`
	CoverURL    string    `gorm:"size:500" json:"cover_url"`
	Published   bool      `gorm:"index" json:"published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
