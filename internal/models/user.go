package models

import "time"

const (
	UserTypeCompany   = "company"
	UserTypePlayer    = "player"
	UserTypeSupporter = "supporter"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	UserType     string    `json:"user_type"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) Profile() *Profile {
	return &Profile{
		ID:       u.ID,
		Name:     u.Name,
		Avatar:   u.AvatarURL,
		UserType: u.UserType,
	}
}
