// Package speech implements a realtime transcription session against the
// Speechmatics v2 websocket API.
package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// DefaultEndpoint is the vendor's regional realtime endpoint.
const DefaultEndpoint = "wss://eu2.rt.speechmatics.com/v2"

// Audio the platform egress delivers: 16-bit little-endian PCM at 16kHz.
const (
	audioEncoding   = "pcm_s16le"
	audioSampleRate = 16000
)

// Vendor message tags.
const (
	msgStartRecognition     = "StartRecognition"
	msgEndOfStream          = "EndOfStream"
	msgRecognitionStarted   = "RecognitionStarted"
	msgAddTranscript        = "AddTranscript"
	msgAddPartialTranscript = "AddPartialTranscript"
	msgError                = "Error"
)

// TranscriptSink receives transcript events in the order the vendor emits
// them. Callbacks run on the session's read goroutine.
type TranscriptSink interface {
	OnPartialTranscript(text string)
	OnFinalTranscript(text string)
}

// LogSink surfaces transcripts to the log, the default observer.
type LogSink struct {
	Key string // session tag, e.g. "room1-track9"
}

func (s LogSink) OnPartialTranscript(text string) {
	log.Info().Str("module", "speech").Str("session", s.Key).Str("kind", "partial").Msg(text)
}

func (s LogSink) OnFinalTranscript(text string) {
	log.Info().Str("module", "speech").Str("session", s.Key).Str("kind", "final").Msg(text)
}

type Config struct {
	APIKey         string
	Endpoint       string // defaults to DefaultEndpoint
	Language       string // defaults to "en"
	EnablePartials bool
	MaxDelay       float64 // seconds, defaults to 2
}

type startRecognition struct {
	Message             string              `json:"message"`
	AuthToken           string              `json:"auth_token,omitempty"`
	AudioFormat         audioFormat         `json:"audio_format"`
	TranscriptionConfig transcriptionConfig `json:"transcription_config"`
}

type audioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type transcriptionConfig struct {
	Language       string  `json:"language"`
	EnablePartials bool    `json:"enable_partials"`
	MaxDelay       float64 `json:"max_delay"`
}

type endOfStream struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}

type serverMessage struct {
	Message  string `json:"message"`
	Type     string `json:"type,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Metadata struct {
		Transcript string `json:"transcript"`
	} `json:"metadata"`
}

// Session is one live recognition stream. Audio goes in via SendAudio,
// transcript events come out through the sink. The session ends when the
// vendor closes the socket or Close is called; there is no reconnect.
type Session struct {
	conn *websocket.Conn
	sink TranscriptSink
	key  string

	mu     sync.Mutex // guards writes and the closed flag
	closed bool
	seq    int // audio messages sent, reported in EndOfStream

	done     chan struct{}
	doneOnce sync.Once
}

// OpenSession dials the vendor and sends the start-of-session control
// message. It returns only once the stream is ready to accept audio, so
// callers never race the handshake.
func OpenSession(ctx context.Context, cfg Config, key string, sink TranscriptSink) (*Session, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	maxDelay := cfg.MaxDelay
	if maxDelay == 0 {
		maxDelay = 2
	}

	url := endpoint + "/" + language
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial transcription vendor: %w", err)
	}

	start := startRecognition{
		Message:   msgStartRecognition,
		AuthToken: cfg.APIKey,
		AudioFormat: audioFormat{
			Type:       "raw",
			Encoding:   audioEncoding,
			SampleRate: audioSampleRate,
		},
		TranscriptionConfig: transcriptionConfig{
			Language:       language,
			EnablePartials: cfg.EnablePartials,
			MaxDelay:       maxDelay,
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send StartRecognition: %w", err)
	}

	s := &Session{
		conn: conn,
		sink: sink,
		key:  key,
		done: make(chan struct{}),
	}
	go s.readLoop()

	log.Info().Str("module", "speech").Str("session", key).Str("url", url).Msg("vendor session opened")
	return s, nil
}

// SendAudio forwards one binary audio frame. Frames are written in call
// order; the caller must not interleave concurrent sends if it needs
// ordering.
func (s *Session) SendAudio(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speech: session %s closed", s.key)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return err
	}
	s.seq++
	return nil
}

// Finish tells the vendor no more audio is coming. The vendor flushes any
// pending transcripts and closes from its side.
func (s *Session) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.conn.WriteJSON(endOfStream{Message: msgEndOfStream, LastSeqNo: s.seq})
}

// Close tears the session down immediately.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	_ = s.conn.Close()
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed once the vendor side of the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) readLoop() {
	defer s.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("module", "speech").Str("session", s.key).Msg("vendor read ended")
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("module", "speech").Str("session", s.key).Msg("unparseable vendor message")
			continue
		}

		switch msg.Message {
		case msgRecognitionStarted:
			log.Debug().Str("module", "speech").Str("session", s.key).Msg("recognition started")
		case msgAddTranscript:
			s.sink.OnFinalTranscript(msg.Metadata.Transcript)
		case msgAddPartialTranscript:
			s.sink.OnPartialTranscript(msg.Metadata.Transcript)
		case msgError:
			log.Error().Str("module", "speech").Str("session", s.key).Str("type", msg.Type).Str("reason", msg.Reason).Msg("vendor error")
		default:
			// Info messages, audio acks and anything newer are ignored.
		}
	}
}
