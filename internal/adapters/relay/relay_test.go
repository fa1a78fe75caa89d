package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeVendor struct {
	mu       sync.Mutex
	frames   [][]byte
	finished bool
	done     chan struct{}
	once     sync.Once
}

func newFakeVendor() *fakeVendor {
	return &fakeVendor{done: make(chan struct{})}
}

func (v *fakeVendor) SendAudio(frame []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	v.frames = append(v.frames, cp)
	return nil
}

func (v *fakeVendor) Finish() error {
	v.mu.Lock()
	v.finished = true
	v.mu.Unlock()
	v.Close()
	return nil
}

func (v *fakeVendor) Close() {
	v.once.Do(func() { close(v.done) })
}

func (v *fakeVendor) Done() <-chan struct{} { return v.done }

func (v *fakeVendor) snapshot() ([][]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.frames))
	copy(out, v.frames)
	return out, v.finished
}

func newRelayServer(t *testing.T, dial Dialer) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctl := NewController(dial)
	r := gin.New()
	r.GET("/egress/:room/:track", func(c *gin.Context) {
		ctl.HandleEgress(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return strings.Replace(srv.URL, "http", "ws", 1) + path
}

// TestFramesForwardedInOrder checks the core relay guarantee: every binary
// frame reaches the vendor byte for byte, in arrival order, and closing
// the inbound side sends end-of-stream.
func TestFramesForwardedInOrder(t *testing.T) {
	vendor := newFakeVendor()
	srv := newRelayServer(t, func(ctx context.Context, key string) (VendorSession, error) {
		if key != "room1-track9" {
			t.Errorf("unexpected session key %q", key)
		}
		return vendor, nil
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/egress/room1/track9"), nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}

	const n = 20
	want := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		frame := []byte(fmt.Sprintf("pcm-frame-%02d", i))
		want = append(want, frame)
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close inbound: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		got, finished := vendor.snapshot()
		if finished {
			if len(got) != n {
				t.Fatalf("frame count: want %d got %d", n, len(got))
			}
			for i := range got {
				if !bytes.Equal(got[i], want[i]) {
					t.Fatalf("frame %d: want %q got %q", i, want[i], got[i])
				}
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("vendor never saw end-of-stream (got %d frames)", len(got))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestTextFramesIgnored: only binary payloads are audio; control text from
// the egress must not reach the vendor.
func TestTextFramesIgnored(t *testing.T) {
	vendor := newFakeVendor()
	srv := newRelayServer(t, func(ctx context.Context, key string) (VendorSession, error) {
		return vendor, nil
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/egress/room1/track1"), nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"keepalive":true}`)); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("audio")); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	_ = conn.Close()

	deadline := time.After(2 * time.Second)
	for {
		got, finished := vendor.snapshot()
		if finished {
			if len(got) != 1 || string(got[0]) != "audio" {
				t.Fatalf("want only the binary frame, got %q", got)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("session never finished")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestVendorDialFailureClosesInbound: no vendor, no session.
func TestVendorDialFailureClosesInbound(t *testing.T) {
	srv := newRelayServer(t, func(ctx context.Context, key string) (VendorSession, error) {
		return nil, errors.New("vendor unreachable")
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/egress/room1/track1"), nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the relay to close the connection")
	}
}

// TestVendorCloseTearsDownSession: the vendor ending its side must end the
// inbound side too.
func TestVendorCloseTearsDownSession(t *testing.T) {
	vendor := newFakeVendor()
	srv := newRelayServer(t, func(ctx context.Context, key string) (VendorSession, error) {
		return vendor, nil
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/egress/room1/track1"), nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	vendor.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("inbound connection should be closed after vendor close")
	}
}
