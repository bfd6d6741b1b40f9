package users

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/auth"
)

// Identity maps a provider login to the canonical user id that owns binders.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps identity rows in the user_identities table.
func (Identity) TableName() string {
	return "user_identities"
}

// loginKey identifies a provider login; it doubles as the resolution cache key.
func loginKey(provider, subject string) string {
	return provider + ":" + subject
}

// Login returns the provider:subject pair the identity was created from.
func (i Identity) Login() string {
	return loginKey(i.Provider, i.Subject)
}

// newIdentity builds the first identity row for a login. The subject becomes
// the canonical user id, so binder owner ids never carry the provider prefix.
func newIdentity(provider, subject string, claims auth.SessionClaims, seenAt time.Time) Identity {
	return Identity{
		Provider:    provider,
		Subject:     subject,
		UserID:      subject,
		Email:       normalize(claims.UserEmail),
		DisplayName: normalize(claims.UserDisplayName),
		AvatarURL:   normalize(claims.UserAvatarURL),
		LastSeenAt:  seenAt,
	}
}

// profileUpdates lists the columns a later login changes. Empty claim values
// never clear stored profile fields.
func (i Identity) profileUpdates(claims auth.SessionClaims, seenAt time.Time) map[string]interface{} {
	updates := map[string]interface{}{"last_seen_at": seenAt}
	if email := normalize(claims.UserEmail); email != "" && email != i.Email {
		updates["user_email"] = email
	}
	if display := normalize(claims.UserDisplayName); display != "" && display != i.DisplayName {
		updates["user_display_name"] = display
	}
	if avatar := normalize(claims.UserAvatarURL); avatar != "" && avatar != i.AvatarURL {
		updates["user_avatar_url"] = avatar
	}
	return updates
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
