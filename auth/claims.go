package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the JWT payload accepted by cablesync. It embeds
// jwt.RegisteredClaims for the standard fields (exp, iat, sub).
type Claims struct {
	jwt.RegisteredClaims
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
}

// Actor returns the identity used for audit attribution.
func (c *Claims) Actor() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}
