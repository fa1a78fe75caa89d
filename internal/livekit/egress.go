package livekit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/Tushar-Sukhwal/ZoomOut/internal/core"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/domain"
)

// egressAPI is the slice of the platform egress service the manager needs.
type egressAPI interface {
	StartRoomCompositeEgress(ctx context.Context, req *lkproto.RoomCompositeEgressRequest) (*lkproto.EgressInfo, error)
	StartTrackEgress(ctx context.Context, req *lkproto.TrackEgressRequest) (*lkproto.EgressInfo, error)
	StopEgress(ctx context.Context, req *lkproto.StopEgressRequest) (*lkproto.EgressInfo, error)
}

// egressClaim is one tracked (or starting) egress. The id stays empty
// while the start call is in flight; all access goes through the manager
// mutex.
type egressClaim struct {
	id string
}

// EgressManager tracks at most one live egress per key (room, or
// room-track) and keeps starts idempotent under webhook redelivery.
type EgressManager struct {
	client egressAPI
	// ws:// base the platform streams captured audio to.
	relayURL     string
	startTimeout time.Duration

	mu     sync.Mutex
	active map[string]*egressClaim
}

func NewEgressManager(url, apiKey, apiSecret, relayURL string, startTimeout time.Duration) *EgressManager {
	return &EgressManager{
		client:       lksdk.NewEgressClient(url, apiKey, apiSecret),
		relayURL:     relayURL,
		startTimeout: startTimeout,
		active:       make(map[string]*egressClaim),
	}
}

var _ core.EgressController = (*EgressManager)(nil)

// claim reserves key so concurrent starts for the same key collapse into
// one in-flight call. Returns nil when the key is already claimed.
func (m *EgressManager) claim(key string) *egressClaim {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[key]; ok {
		return nil
	}
	c := &egressClaim{}
	m.active[key] = c
	return c
}

// settle records the outcome of a start call. The claim may have been
// removed while the call was in flight (the room emptied and
// StopRoomEgress ran); in that case the freshly started egress has no
// owner and is stopped right here instead of being re-tracked.
func (m *EgressManager) settle(key string, c *egressClaim, egressID string, err error) {
	m.mu.Lock()
	if err != nil {
		if m.active[key] == c {
			delete(m.active, key)
		}
		m.mu.Unlock()
		return
	}
	if m.active[key] != c {
		m.mu.Unlock()
		log.Info().Str("module", "livekit.egress").Str("key", key).Str("egress_id", egressID).Msg("claim removed mid-start, stopping orphaned egress")
		m.stopOrphan(egressID)
		return
	}
	c.id = egressID
	m.mu.Unlock()
}

// stopOrphan best-effort stops an egress that settled after its claim was
// torn down. It runs on its own deadline: the start context may be nearly
// spent by the time the race is detected.
func (m *EgressManager) stopOrphan(egressID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.startTimeout)
	defer cancel()
	if _, err := m.client.StopEgress(ctx, &lkproto.StopEgressRequest{EgressId: egressID}); err != nil {
		log.Warn().Err(err).Str("module", "livekit.egress").Str("egress_id", egressID).Msg("orphaned egress stop failed")
	}
}

func (m *EgressManager) EnsureRoomEgress(ctx context.Context, room domain.RoomName) error {
	key := room.String()
	c := m.claim(key)
	if c == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.startTimeout)
	defer cancel()

	info, err := m.client.StartRoomCompositeEgress(ctx, &lkproto.RoomCompositeEgressRequest{
		RoomName:  room.String(),
		Layout:    "speaker",
		AudioOnly: true,
		StreamOutputs: []*lkproto.StreamOutput{{
			Protocol: lkproto.StreamProtocol_DEFAULT_PROTOCOL,
			Urls:     []string{fmt.Sprintf("%s/audio/%s/room", m.relayURL, room)},
		}},
	})
	m.settle(key, c, info.GetEgressId(), err)
	if err != nil {
		return fmt.Errorf("start room egress %s: %w", room, err)
	}
	log.Info().Str("module", "livekit.egress").Str("room", room.String()).Str("egress_id", info.GetEgressId()).Msg("room egress started")
	return nil
}

func (m *EgressManager) StartTrackEgress(ctx context.Context, room domain.RoomName, trackID string) error {
	key := room.String() + "-" + trackID
	c := m.claim(key)
	if c == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.startTimeout)
	defer cancel()

	info, err := m.client.StartTrackEgress(ctx, &lkproto.TrackEgressRequest{
		RoomName: room.String(),
		TrackId:  trackID,
		Output: &lkproto.TrackEgressRequest_WebsocketUrl{
			WebsocketUrl: fmt.Sprintf("%s/egress/%s/%s", m.relayURL, room, trackID),
		},
	})
	m.settle(key, c, info.GetEgressId(), err)
	if err != nil {
		return fmt.Errorf("start track egress %s/%s: %w", room, trackID, err)
	}
	log.Info().Str("module", "livekit.egress").Str("room", room.String()).Str("track", trackID).Str("egress_id", info.GetEgressId()).Msg("track egress started")
	return nil
}

// StopRoomEgress asks the platform to stop the tracked room egress and
// removes the claim either way: room teardown proceeds regardless. When
// the start is still in flight there is no id to stop yet; removing the
// claim makes settle stop the fresh egress as soon as it lands.
func (m *EgressManager) StopRoomEgress(ctx context.Context, room domain.RoomName) error {
	key := room.String()
	m.mu.Lock()
	c := m.active[key]
	delete(m.active, key)
	var egressID string
	if c != nil {
		egressID = c.id
	}
	m.mu.Unlock()
	if egressID == "" {
		return nil
	}

	_, err := m.client.StopEgress(ctx, &lkproto.StopEgressRequest{EgressId: egressID})
	if err != nil {
		return fmt.Errorf("stop egress %s: %w", egressID, err)
	}
	log.Info().Str("module", "livekit.egress").Str("room", room.String()).Str("egress_id", egressID).Msg("room egress stopped")
	return nil
}

// HasActiveEgress reports whether a live egress is tracked for key.
func (m *EgressManager) HasActiveEgress(room domain.RoomName) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.active[room.String()]
	return ok && c.id != ""
}
