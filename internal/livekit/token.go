// Package livekit wraps the media platform's server SDK: token minting,
// room provisioning and egress control.
package livekit

import (
	"errors"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/Tushar-Sukhwal/ZoomOut/internal/core"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/domain"
)

const (
	// ParticipantTokenTTL bounds how long a handed-out join token stays valid.
	ParticipantTokenTTL = 10 * time.Minute
	// RecorderTokenTTL is the long window granted to recorder/bot identities.
	RecorderTokenTTL = 12 * time.Hour
)

var ErrMissingCredentials = errors.New("livekit: missing API key or secret")

// TokenIssuer mints signed join credentials. Stateless apart from the
// signing key pair.
type TokenIssuer struct {
	apiKey    string
	apiSecret string
}

func NewTokenIssuer(apiKey, apiSecret string) *TokenIssuer {
	return &TokenIssuer{apiKey: apiKey, apiSecret: apiSecret}
}

var _ core.TokenIssuer = (*TokenIssuer)(nil)

// IssueToken grants join permission on exactly the platform room derived
// from the meeting id, valid for ParticipantTokenTTL.
func (t *TokenIssuer) IssueToken(participant string, room domain.RoomID) (string, time.Time, error) {
	if t.apiKey == "" || t.apiSecret == "" {
		return "", time.Time{}, ErrMissingCredentials
	}

	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room.Name().String(),
	}
	at := auth.NewAccessToken(t.apiKey, t.apiSecret)
	at.AddGrant(grant).
		SetIdentity(participant).
		SetValidFor(ParticipantTokenTTL)

	jwt, err := at.ToJWT()
	if err != nil {
		return "", time.Time{}, err
	}
	return jwt, time.Now().Add(ParticipantTokenTTL), nil
}

// IssueRecorderToken grants a subscribe-only identity a long-lived token,
// used by recording bots that tap room audio.
func (t *TokenIssuer) IssueRecorderToken(identity string, room domain.RoomID) (string, error) {
	if t.apiKey == "" || t.apiSecret == "" {
		return "", ErrMissingCredentials
	}

	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room.Name().String(),
	}
	grant.SetCanPublish(false)
	grant.SetCanSubscribe(true)

	at := auth.NewAccessToken(t.apiKey, t.apiSecret)
	at.AddGrant(grant).
		SetIdentity(identity).
		SetValidFor(RecorderTokenTTL)

	return at.ToJWT()
}
