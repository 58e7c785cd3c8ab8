package jwt

import (
	"omnicrm-backend/internal/env"
)

var RoleSecrets map[Role]string

const (
	RoleUser Role = iota
)

func init() {
	RoleSecrets = map[Role]string{
		RoleUser: env.Get(env.UserSecretKey),
	}
}
