package models

import (
	"time"
)

// Identity models mirrored from the identity subsystem. Messaging only reads them.

// UserStatus is the account state maintained by the identity subsystem
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusInactive UserStatus = "INACTIVE"
)

// User represents a user referenced by conversations and messages
type User struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Email     string     `json:"email" db:"email"`
	Avatar    *string    `json:"avatar,omitempty" db:"avatar"`
	Status    UserStatus `json:"status" db:"status"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// UserSummary is the public projection of a user embedded in messaging payloads
type UserSummary struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar,omitempty"`
}

// Summary returns the public projection of the user
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

// IsMessageable reports whether the account can take part in conversations
func (u *User) IsMessageable() bool {
	return u.Status == UserStatusActive && u.DeletedAt == nil
}

// Pagination describes an offset page for list endpoints
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes page totals
func NewPagination(page, limit, total int) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.TotalPages = (total + limit - 1) / limit
	}
	return p
}
