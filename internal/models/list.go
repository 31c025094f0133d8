package models

import (
	"time"
)

// List represents a named list owned by one user
type List struct {
	ID        string    `firestore:"id" json:"id"`
	UserID    string    `firestore:"userId" json:"user_id"`
	Name      string    `firestore:"name" json:"name"`
	CreatedAt time.Time `firestore:"createdAt" json:"created_at"`
}
