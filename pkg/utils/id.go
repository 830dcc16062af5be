package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateConnectionID generates the opaque id assigned to a signaling
// connection. Never reused.
func GenerateConnectionID() string {
	return uuid.NewString()
}

// GenerateMessageID generates a unique chat message ID
func GenerateMessageID() string {
	return uuid.NewString()
}

// GenerateRoomID generates a unique room ID
func GenerateRoomID() string {
	return uuid.NewString()
}

const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateRoomCode generates a short human-typable room code. The alphabet
// omits easily confused characters (0/O, 1/I).
func GenerateRoomCode() string {
	b := make([]byte, 6)
	rand.Read(b)
	code := make([]byte, len(b))
	for i, v := range b {
		code[i] = roomCodeAlphabet[int(v)%len(roomCodeAlphabet)]
	}
	return string(code)
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	timestamp := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", timestamp, hex.EncodeToString(b))
}
