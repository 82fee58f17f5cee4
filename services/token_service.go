package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type PlayerRole string

const (
	RolePlayer PlayerRole = "player"
	RoleHost   PlayerRole = "host"
)

// PlayerClaims binds a credential to a single room, player and role.
type PlayerClaims struct {
	RoomCode string     `json:"roomCode"`
	PlayerID string     `json:"playerId"`
	Role     PlayerRole `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies signed player credentials. Credentials are
// the only player-level authorization mechanism; the host secret is a separate
// trust domain handled by the room store.
type TokenService struct {
	secret []byte
	maxAge time.Duration
}

func NewTokenService(secret string, maxAge time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		maxAge: maxAge,
	}
}

func (s *TokenService) Issue(roomCode, playerID string, role PlayerRole) (string, error) {
	claims := PlayerClaims{
		RoomCode: roomCode,
		PlayerID: playerID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.maxAge)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing player token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) Verify(tokenString string) (*PlayerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PlayerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*PlayerClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
