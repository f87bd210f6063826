package models

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type User struct {
	ID             int       `json:"id" example:"1"`                      // User ID
	Username       string    `json:"username" example:"rara"`             // Unique login name
	Email          string    `json:"email" example:"user@example.com"`    // User email
	FullName       string    `json:"fullName" example:"Rara Wilis"`       // Display name
	Role           Role      `json:"role" example:"USER"`                 // USER or ADMIN
	Phone          string    `json:"phone,omitempty" example:"+628123456"`
	Address        string    `json:"address,omitempty"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
