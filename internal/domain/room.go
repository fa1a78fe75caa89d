// Package domain contains entity without logic, just meta-data
package domain

import "errors"

type (
	// RoomID is the opaque caller-supplied meeting identifier.
	RoomID string
	// RoomName is the name the room carries on the media platform.
	RoomName string
)

// roomNamePrefix maps a RoomID onto the platform-side room namespace.
const roomNamePrefix = "room-"

// Name derives the platform room name from a meeting id.
func (id RoomID) Name() RoomName {
	return RoomName(roomNamePrefix + string(id))
}

func (n RoomName) String() string { return string(n) }

// Room groups participants and at most one tracked transcription egress.
type Room struct {
	ID   RoomID
	Name RoomName
}

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNameTaken    = errors.New("name already taken in room")
)

// DefaultParticipantName is used when a meeting creator gives no name.
const DefaultParticipantName = "Anonymous"
