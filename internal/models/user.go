package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName,omitempty"`
	PasswordHash string    `json:"-"`
	Credits      int32     `json:"credits"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserCredits is the public view returned after a balance change.
type UserCredits struct {
	ID      int64 `json:"id"`
	Credits int32 `json:"credits"`
}
