package services

import "errors"

var (
	ErrRoomNotFound       = errors.New("ROOM_NOT_FOUND")
	ErrPlayerNotFound     = errors.New("PLAYER_NOT_FOUND")
	ErrNicknameRequired   = errors.New("NICKNAME_REQUIRED")
	ErrInvalidTokenRoom   = errors.New("INVALID_TOKEN_ROOM")
	ErrInvalidTokenPlayer = errors.New("INVALID_TOKEN_PLAYER")
	ErrInvalidToken       = errors.New("INVALID_TOKEN")
	ErrExpiredToken       = errors.New("EXPIRED_TOKEN")
)
