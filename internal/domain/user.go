package domain

import (
	"context"
	"time"
)

// User is an identity known to the local identity provider.
type User struct {
	ID           string // UUID, the identity id embedded in tokens
	Email        string // Unique email address
	DisplayName  string
	PasswordHash string // Bcrypt hashed password (not returned in API)
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsActive     bool
}

// UserRepository defines data access for users
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
}
