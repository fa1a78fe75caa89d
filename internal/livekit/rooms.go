package livekit

import (
	"context"
	"time"

	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/Tushar-Sukhwal/ZoomOut/internal/core"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/domain"
)

// roomAPI is the slice of the platform room service the provisioner needs.
type roomAPI interface {
	ListRooms(ctx context.Context, req *lkproto.ListRoomsRequest) (*lkproto.ListRoomsResponse, error)
	CreateRoom(ctx context.Context, req *lkproto.CreateRoomRequest) (*lkproto.Room, error)
}

// RoomProvisioner ensures the remote room object exists before anyone
// redeems a join token for it.
type RoomProvisioner struct {
	client       roomAPI
	emptyTimeout time.Duration
}

func NewRoomProvisioner(url, apiKey, apiSecret string, emptyTimeout time.Duration) *RoomProvisioner {
	return &RoomProvisioner{
		client:       lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
		emptyTimeout: emptyTimeout,
	}
}

var _ core.RoomProvisioner = (*RoomProvisioner)(nil)

// EnsureRoom creates the room if the platform does not know it yet. The
// platform reaps the room itself after emptyTimeout of emptiness.
func (p *RoomProvisioner) EnsureRoom(ctx context.Context, room domain.RoomName) error {
	resp, err := p.client.ListRooms(ctx, &lkproto.ListRoomsRequest{Names: []string{room.String()}})
	if err != nil {
		// Treat a failed lookup as absence and fall through to create; the
		// create call reports the real failure if the platform is down.
		log.Warn().Err(err).Str("module", "livekit.rooms").Str("room", room.String()).Msg("room lookup failed")
	} else if len(resp.GetRooms()) > 0 {
		return nil
	}

	log.Info().Str("module", "livekit.rooms").Str("room", room.String()).Msg("creating room")
	_, err = p.client.CreateRoom(ctx, &lkproto.CreateRoomRequest{
		Name:         room.String(),
		EmptyTimeout: uint32(p.emptyTimeout.Seconds()),
	})
	return err
}
