package core

import (
	"context"
	"time"

	"github.com/Tushar-Sukhwal/ZoomOut/internal/domain"
)

// Membership is the in-process source of truth for who is in which room.
// Implementations must serialize mutations per room; calls for different
// rooms may run in parallel. It never performs network calls: egress
// teardown on room eviction belongs to the caller.
type Membership interface {
	// Create adds name to the room, creating the room entry if absent.
	// Adding an already-present name is a no-op. Returns the participant
	// list in join order.
	Create(room domain.RoomID, name string) []string

	// Join adds name to an existing room. Fails with domain.ErrRoomNotFound
	// if the room is not tracked and domain.ErrNameTaken on collision.
	Join(room domain.RoomID, name string) ([]string, error)

	// Leave removes name if present. When the last participant leaves, the
	// room entry is evicted and empty reports true.
	Leave(room domain.RoomID, name string) (empty bool)

	Exists(room domain.RoomID) bool
	Has(room domain.RoomID, name string) bool
	Participants(room domain.RoomID) []string
}

// TokenIssuer mints signed join credentials for the media platform.
type TokenIssuer interface {
	IssueToken(participant string, room domain.RoomID) (token string, expiresAt time.Time, err error)

	// IssueRecorderToken mints a long-lived subscribe-only credential for a
	// recording bot joining the room.
	IssueRecorderToken(identity string, room domain.RoomID) (string, error)
}

// RoomProvisioner makes sure the room object exists on the media platform.
type RoomProvisioner interface {
	EnsureRoom(ctx context.Context, room domain.RoomName) error
}

// EgressController owns the server-side audio capture jobs. Start and stop
// are best-effort from the caller's point of view: errors are returned so
// the call site can log and discard them, conferencing must not depend on
// transcription being available.
type EgressController interface {
	// EnsureRoomEgress starts a room-composite audio egress unless one is
	// already tracked for the room.
	EnsureRoomEgress(ctx context.Context, room domain.RoomName) error

	// StartTrackEgress starts a per-track audio egress pointed at the
	// transcription relay. Idempotent for a given (room, track).
	StartTrackEgress(ctx context.Context, room domain.RoomName, trackID string) error

	// StopRoomEgress stops the tracked room egress, if any.
	StopRoomEgress(ctx context.Context, room domain.RoomName) error
}
