package livekit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	lkproto "github.com/livekit/protocol/livekit"
)

type fakeEgressAPI struct {
	mu          sync.Mutex
	roomStarts  []*lkproto.RoomCompositeEgressRequest
	trackStarts []*lkproto.TrackEgressRequest
	stops       []*lkproto.StopEgressRequest
	startErr    error
	nextID      int

	// When set, room starts announce themselves on enterStart and then
	// park on block, letting tests interleave calls mid-flight.
	enterStart chan struct{}
	block      chan struct{}
}

func (f *fakeEgressAPI) StartRoomCompositeEgress(_ context.Context, req *lkproto.RoomCompositeEgressRequest) (*lkproto.EgressInfo, error) {
	if f.enterStart != nil {
		f.enterStart <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.roomStarts = append(f.roomStarts, req)
	f.nextID++
	return &lkproto.EgressInfo{EgressId: fmt.Sprintf("EG_%d", f.nextID)}, nil
}

func (f *fakeEgressAPI) StartTrackEgress(_ context.Context, req *lkproto.TrackEgressRequest) (*lkproto.EgressInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.trackStarts = append(f.trackStarts, req)
	f.nextID++
	return &lkproto.EgressInfo{EgressId: fmt.Sprintf("EG_%d", f.nextID)}, nil
}

func (f *fakeEgressAPI) StopEgress(_ context.Context, req *lkproto.StopEgressRequest) (*lkproto.EgressInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, req)
	return &lkproto.EgressInfo{EgressId: req.EgressId}, nil
}

func newTestManager(api *fakeEgressAPI) *EgressManager {
	return &EgressManager{
		client:       api,
		relayURL:     "ws://relay.local:8000",
		startTimeout: time.Second,
		active:       make(map[string]*egressClaim),
	}
}

func TestEnsureRoomEgressIdempotent(t *testing.T) {
	api := &fakeEgressAPI{}
	m := newTestManager(api)

	for i := 0; i < 3; i++ {
		if err := m.EnsureRoomEgress(context.Background(), "room-room1"); err != nil {
			t.Fatalf("ensure %d: %v", i, err)
		}
	}

	if len(api.roomStarts) != 1 {
		t.Fatalf("duplicate egress starts: %d", len(api.roomStarts))
	}
	req := api.roomStarts[0]
	if !req.AudioOnly || req.Layout != "speaker" {
		t.Fatalf("egress options: %+v", req)
	}
	urls := req.StreamOutputs[0].GetUrls()
	if len(urls) != 1 || urls[0] != "ws://relay.local:8000/audio/room-room1/room" {
		t.Fatalf("stream url: %v", urls)
	}
	if !m.HasActiveEgress("room-room1") {
		t.Fatal("egress id not tracked")
	}
}

func TestEnsureRoomEgressFailureRetries(t *testing.T) {
	api := &fakeEgressAPI{startErr: errors.New("egress backend down")}
	m := newTestManager(api)

	if err := m.EnsureRoomEgress(context.Background(), "room-room1"); err == nil {
		t.Fatal("want start error")
	}
	if m.HasActiveEgress("room-room1") {
		t.Fatal("failed start must not leave a tracked id")
	}

	// The next attempt is allowed to try again.
	api.startErr = nil
	if err := m.EnsureRoomEgress(context.Background(), "room-room1"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if !m.HasActiveEgress("room-room1") {
		t.Fatal("retry did not track the egress")
	}
}

func TestStartTrackEgressKeyedPerTrack(t *testing.T) {
	api := &fakeEgressAPI{}
	m := newTestManager(api)

	if err := m.StartTrackEgress(context.Background(), "room-room1", "TR_a"); err != nil {
		t.Fatalf("start track a: %v", err)
	}
	// Webhook redelivery: same track again is a no-op.
	if err := m.StartTrackEgress(context.Background(), "room-room1", "TR_a"); err != nil {
		t.Fatalf("redelivered start: %v", err)
	}
	if err := m.StartTrackEgress(context.Background(), "room-room1", "TR_b"); err != nil {
		t.Fatalf("start track b: %v", err)
	}

	if len(api.trackStarts) != 2 {
		t.Fatalf("track starts: want 2 got %d", len(api.trackStarts))
	}
	url := api.trackStarts[0].GetWebsocketUrl()
	if !strings.HasSuffix(url, "/egress/room-room1/TR_a") {
		t.Fatalf("track egress url: %s", url)
	}
}

func TestStopRoomEgress(t *testing.T) {
	api := &fakeEgressAPI{}
	m := newTestManager(api)

	// Stopping with nothing tracked is a no-op.
	if err := m.StopRoomEgress(context.Background(), "room-room1"); err != nil {
		t.Fatalf("stop without egress: %v", err)
	}
	if len(api.stops) != 0 {
		t.Fatalf("unexpected stop calls: %d", len(api.stops))
	}

	if err := m.EnsureRoomEgress(context.Background(), "room-room1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := m.StopRoomEgress(context.Background(), "room-room1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(api.stops) != 1 || api.stops[0].EgressId != "EG_1" {
		t.Fatalf("stop calls: %+v", api.stops)
	}
	if m.HasActiveEgress("room-room1") {
		t.Fatal("egress still tracked after stop")
	}
}

func TestStopDuringInFlightStartStopsFreshEgress(t *testing.T) {
	api := &fakeEgressAPI{
		enterStart: make(chan struct{}),
		block:      make(chan struct{}),
	}
	m := newTestManager(api)

	done := make(chan error, 1)
	go func() {
		done <- m.EnsureRoomEgress(context.Background(), "room-room1")
	}()
	<-api.enterStart

	// The room empties while the start is still in flight: there is no
	// egress id yet, so nothing can be stopped at this point.
	if err := m.StopRoomEgress(context.Background(), "room-room1"); err != nil {
		t.Fatalf("stop mid-start: %v", err)
	}
	api.mu.Lock()
	stops := len(api.stops)
	api.mu.Unlock()
	if stops != 0 {
		t.Fatalf("stop calls before start settled: %d", stops)
	}

	close(api.block)
	if err := <-done; err != nil {
		t.Fatalf("ensure: %v", err)
	}

	// The start landed after the stop: the fresh egress must be torn
	// down, not tracked for the evicted room.
	if m.HasActiveEgress("room-room1") {
		t.Fatal("egress tracked after mid-start stop")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.stops) != 1 || api.stops[0].EgressId != "EG_1" {
		t.Fatalf("stop calls: %+v", api.stops)
	}
}
