package model

import "time"

// User is an operator account for the admin API.
type User struct {
	ID           int
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
