package models

import "time"

// User roles
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// User is an operator account for the web and control surfaces. Agents are
// not users; they authenticate with their own tokens.
type User struct {
	ID                 int64     `json:"id"`
	Username           string    `json:"username"`
	PasswordHash       string    `json:"-"`
	Role               string    `json:"role"`
	ControlTokenDigest string    `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
