package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Platform — внешняя площадка публикации. Закрытое перечисление.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
)

// AllPlatforms перечисляет поддерживаемые платформы.
var AllPlatforms = []Platform{PlatformInstagram, PlatformFacebook, PlatformTwitter, PlatformLinkedIn}

func (p Platform) Valid() bool {
	for _, v := range AllPlatforms {
		if p == v {
			return true
		}
	}
	return false
}

func (p Platform) String() string {
	return string(p)
}

// ParsePlatform разбирает имя платформы без учёта регистра.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown platform %q", ErrValidation, s)
	}
	return p, nil
}

// LinkedAccount — идентификатор аккаунта владельца на платформе
// (бизнес-аккаунт Instagram, страница Facebook, имя в Twitter).
type LinkedAccount struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	Platform  Platform  `json:"platform"`
	AccountID string    `json:"account_id"`
}
