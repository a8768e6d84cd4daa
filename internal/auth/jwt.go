package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/annel0/match-replay/internal/protocol"
)

// JWT secret key - in production should be loaded from configuration
var jwtSecret []byte

func init() {
	// Generate a secure random secret key
	jwtSecret = make([]byte, 32)
	if _, err := rand.Read(jwtSecret); err != nil {
		// Fallback to a hardcoded key only for development
		jwtSecret = []byte("development-secret-key-change-in-production")
	}
}

// ViewerClaims represents JWT claims identifying a connected viewer.
// Tokens are issued by the account service; this service only validates them.
type ViewerClaims struct {
	ViewerID   string `json:"viewer_id"`
	Role       string `json:"role"`
	Controller bool   `json:"controller"`
	jwt.RegisteredClaims
}

// GenerateViewerToken creates a token for the given viewer (used by tests and tools)
func GenerateViewerToken(viewerID string, role protocol.Role, controller bool) (string, error) {
	claims := &ViewerClaims{
		ViewerID:   viewerID,
		Role:       string(role),
		Controller: controller,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "match-replay",
			Subject:   viewerID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateViewerToken checks token validity and returns viewer identity
func ValidateViewerToken(tokenString string) (viewerID string, role protocol.Role, controller bool, err error) {
	claims := &ViewerClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecret, nil
	})

	if err != nil || !token.Valid {
		return "", "", false, errors.New("invalid token")
	}

	role = protocol.Role(claims.Role)
	if role != protocol.RolePlayer && role != protocol.RoleSpectator {
		return "", "", false, errors.New("unknown viewer role")
	}

	return claims.ViewerID, role, claims.Controller, nil
}

// SetJWTSecret allows setting a custom secret key (for production use)
func SetJWTSecret(secret string) error {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return err
	}
	if len(decoded) < 32 {
		return errors.New("secret key must be at least 32 bytes")
	}
	jwtSecret = decoded
	return nil
}

// GenerateSecureSecret generates a new secure secret key
func GenerateSecureSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
