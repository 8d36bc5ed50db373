package model

import (
	"errors"
	"strings"
	"time"
)

// DefaultBio показывается, когда пользователь не заполнил био.
const DefaultBio = "Hey there! I am using WhatsApp"

// UnknownDisplayName — имя участника, которого не удалось найти.
const UnknownDisplayName = "Unknown"

var ErrInvalidUser = errors.New("invalid user")

type User struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	Email           string    `json:"email"`
	Bio             *string   `json:"bio,omitempty"`
	ProfileImageURL *string   `json:"profile_image_url,omitempty"`
	ChatSDKToken    *string   `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// BioOrDefault возвращает био или плейсхолдер.
func (u *User) BioOrDefault() string {
	if u.Bio == nil || strings.TrimSpace(*u.Bio) == "" {
		return DefaultBio
	}
	return *u.Bio
}

// Validate отклоняет запись без id или имени вместо того, чтобы подставлять пустые значения.
func (u *User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.Join(ErrInvalidUser, errors.New("id is required"))
	}
	if strings.TrimSpace(u.DisplayName) == "" {
		return errors.Join(ErrInvalidUser, errors.New("display name is required"))
	}
	return nil
}

// UserPublic — профиль, который видят другие участники.
type UserPublic struct {
	ID              string  `json:"id"`
	DisplayName     string  `json:"display_name"`
	Bio             string  `json:"bio"`
	ProfileImageURL *string `json:"profile_image_url,omitempty"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:              u.ID,
		DisplayName:     u.DisplayName,
		Bio:             u.BioOrDefault(),
		ProfileImageURL: u.ProfileImageURL,
	}
}
