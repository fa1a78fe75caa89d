// Package relay bridges platform egress audio into the transcription
// vendor: one inbound websocket per (room, track), paired with one vendor
// session for its lifetime.
package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tushar-Sukhwal/ZoomOut/internal/speech"
)

var ErrBackpressure = errors.New("backpressure")

// sendQueueSize bounds audio buffered towards a slow vendor. Overflowing
// frames are dropped (with a warning) rather than growing without bound;
// frames that are forwarded keep arrival order.
const sendQueueSize = 64

const writeTimeout = 5 * time.Second

// VendorSession is the outbound half of a relay pairing.
type VendorSession interface {
	SendAudio(frame []byte) error
	Finish() error
	Close()
	Done() <-chan struct{}
}

// Dialer opens a vendor session for the given room-track key.
type Dialer func(ctx context.Context, key string) (VendorSession, error)

// SpeechmaticsDialer builds the production dialer. sink may be nil, in
// which case transcripts go to the log.
func SpeechmaticsDialer(cfg speech.Config, sink speech.TranscriptSink) Dialer {
	return func(ctx context.Context, key string) (VendorSession, error) {
		s := sink
		if s == nil {
			s = speech.LogSink{Key: key}
		}
		return speech.OpenSession(ctx, cfg, key, s)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller accepts inbound egress connections. Sessions for different
// tracks are fully independent.
type Controller struct {
	Dial Dialer
}

func NewController(dial Dialer) *Controller {
	return &Controller{Dial: dial}
}

// HandleEgress serves one /egress/{roomName}/{trackId} (or /audio/...)
// connection. The vendor session is opened before any inbound frame is
// read, so frames arriving during the handshake wait in the socket buffer
// instead of being dropped.
func (ctl *Controller) HandleEgress(ctx context.Context, c *gin.Context) {
	roomName := c.Param("room")
	trackID := c.Param("track")
	if roomName == "" || trackID == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	key := roomName + "-" + trackID
	sid := uuid.NewString()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("key", key).Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "relay").Str("key", key).Str("sid", sid).Msg("egress connection established")

	vendor, err := ctl.Dial(ctx, key)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("key", key).Msg("vendor dial failed")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "transcription unavailable"),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
		return
	}

	s := &session{
		key:    key,
		conn:   conn,
		vendor: vendor,
		send:   make(chan []byte, sendQueueSize),
	}
	go s.writePump()
	go s.readPump(ctx)
	go s.watchVendor(ctx)
}

// session pairs one inbound egress connection with one vendor session.
type session struct {
	key    string
	conn   *websocket.Conn
	vendor VendorSession
	send   chan []byte
}

// trySend enqueues a frame for the vendor without blocking the inbound
// read loop. A full queue means the vendor is too slow; the frame is lost.
func (s *session) trySend(frame []byte) error {
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// readPump drains the inbound socket. Closing it ends the session:
// the send channel close lets writePump flush and signal end-of-stream.
func (s *session) readPump(ctx context.Context) {
	defer close(s.send)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Info().Str("module", "relay").Str("key", s.key).Msg("egress connection closed")
			return
		}
		if msgType != websocket.BinaryMessage {
			// Egress may send text keepalives; only audio is forwarded.
			continue
		}
		if err := s.trySend(data); err != nil {
			log.Warn().Str("module", "relay").Str("key", s.key).Msg("vendor queue full, dropping frame")
		}
	}
}

// writePump forwards queued frames in order. When the inbound side is done
// it sends the end-of-stream control message so the vendor flushes pending
// transcripts, then lets the vendor close from its side.
func (s *session) writePump() {
	for frame := range s.send {
		if err := s.vendor.SendAudio(frame); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("key", s.key).Msg("vendor send failed")
			return
		}
	}
	if err := s.vendor.Finish(); err != nil {
		log.Debug().Err(err).Str("module", "relay").Str("key", s.key).Msg("end-of-stream send failed")
		s.vendor.Close()
	}
}

// watchVendor tears down the inbound connection once the vendor side ends,
// either after our end-of-stream or on a vendor-initiated close.
func (s *session) watchVendor(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.vendor.Done():
	}
	s.vendor.Close()
	_ = s.conn.Close()
	log.Info().Str("module", "relay").Str("key", s.key).Msg("relay session torn down")
}
