package services

import (
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"sketchparty/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const roomCodeLength = 6

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RoomStore is the durable room directory: room codes, host secrets and the
// player roster. It is the only component with multi-statement transactional
// needs (a room must never exist without its host row).
type RoomStore struct {
	db *gorm.DB
}

func NewRoomStore(db *gorm.DB) *RoomStore {
	return &RoomStore{db: db}
}

type CreateRoomResult struct {
	RoomCode   string
	HostSecret string
	HostPlayer models.RoomPlayer
}

func generateRoomCode() string {
	buf := make([]byte, roomCodeLength)
	rand.Read(buf)
	code := make([]byte, roomCodeLength)
	for i, b := range buf {
		code[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(code)
}

// NormalizeRoomCode maps a user-supplied code to its canonical uppercase form.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *RoomStore) generateUniqueRoomCode() (string, error) {
	for {
		candidate := generateRoomCode()
		var count int64
		if err := s.db.Model(&models.Room{}).Where("room_code = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
	}
}

func (s *RoomStore) CreateRoom(hostNickname string) (*CreateRoomResult, error) {
	roomCode, err := s.generateUniqueRoomCode()
	if err != nil {
		return nil, err
	}

	room := models.Room{
		RoomCode:   roomCode,
		HostSecret: uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
	}
	hostPlayer := models.RoomPlayer{
		ID:       uuid.NewString(),
		RoomCode: roomCode,
		Nickname: hostNickname,
		IsHost:   true,
		JoinedAt: time.Now().UTC(),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		return tx.Create(&hostPlayer).Error
	})
	if err != nil {
		return nil, err
	}

	return &CreateRoomResult{
		RoomCode:   roomCode,
		HostSecret: room.HostSecret,
		HostPlayer: hostPlayer,
	}, nil
}

func (s *RoomStore) GetRoom(roomCode string) (*models.Room, error) {
	normalized := NormalizeRoomCode(roomCode)

	var room models.Room
	err := s.db.Where("room_code = ?", normalized).
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC")
		}).
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *RoomStore) GetPlayer(roomCode, playerID string) (*models.RoomPlayer, error) {
	normalized := NormalizeRoomCode(roomCode)

	var player models.RoomPlayer
	err := s.db.Where("room_code = ? AND id = ?", normalized, playerID).First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &player, nil
}

func (s *RoomStore) GetHostSecret(roomCode string) (string, error) {
	normalized := NormalizeRoomCode(roomCode)

	var room models.Room
	err := s.db.Select("host_secret").Where("room_code = ?", normalized).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrRoomNotFound
	}
	if err != nil {
		return "", err
	}
	return room.HostSecret, nil
}

// JoinRoom upserts a player into the roster. Rejoining with a known id updates
// the nickname instead of inserting a duplicate.
func (s *RoomStore) JoinRoom(roomCode, nickname, playerID string) (string, error) {
	normalized := NormalizeRoomCode(roomCode)
	id := playerID
	if id == "" {
		id = uuid.NewString()
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Room{}).Where("room_code = ?", normalized).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRoomNotFound
		}

		var existing models.RoomPlayer
		err := tx.Where("id = ?", id).First(&existing).Error
		if err == nil {
			return tx.Model(&models.RoomPlayer{}).Where("id = ?", id).Update("nickname", nickname).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return tx.Create(&models.RoomPlayer{
			ID:       id,
			RoomCode: normalized,
			Nickname: nickname,
			JoinedAt: time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

func (s *RoomStore) LeaveRoom(roomCode, playerID string) error {
	normalized := NormalizeRoomCode(roomCode)
	return s.db.Where("room_code = ? AND id = ?", normalized, playerID).Delete(&models.RoomPlayer{}).Error
}
