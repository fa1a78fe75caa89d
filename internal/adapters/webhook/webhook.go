// Package webhook receives signed event callbacks from the media platform.
package webhook

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	lkwebhook "github.com/livekit/protocol/webhook"
	"github.com/rs/zerolog/log"

	"github.com/Tushar-Sukhwal/ZoomOut/internal/core"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/domain"
)

// Handler authenticates webhook envelopes against the shared signing
// secret and dispatches on the event tag. It must stay idempotent under
// at-least-once delivery: egress starts funnel through the controller's
// already-active check.
type Handler struct {
	provider auth.KeyProvider
	egress   core.EgressController
}

func NewHandler(apiKey, apiSecret string, egress core.EgressController) *Handler {
	return &Handler{
		provider: auth.NewSimpleKeyProvider(apiKey, apiSecret),
		egress:   egress,
	}
}

// Handle answers 400 only when the payload cannot be authenticated or
// parsed. Once authenticated the caller always gets 200: downstream egress
// failures are our problem, not the platform's.
func (h *Handler) Handle(c *gin.Context) {
	event, err := lkwebhook.ReceiveWebhookEvent(c.Request, h.provider)
	if err != nil {
		log.Warn().Err(err).Str("module", "webhook").Msg("rejected webhook")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	switch event.GetEvent() {
	case lkwebhook.EventParticipantJoined:
		log.Info().Str("module", "webhook").
			Str("room", event.GetRoom().GetName()).
			Str("participant", event.GetParticipant().GetIdentity()).
			Msg("participant joined")

	case lkwebhook.EventTrackPublished:
		h.onTrackPublished(c, event)

	case lkwebhook.EventEgressStarted:
		log.Info().Str("module", "webhook").Str("egress_id", event.GetEgressInfo().GetEgressId()).Msg("egress started")

	case lkwebhook.EventEgressEnded:
		log.Info().Str("module", "webhook").Str("egress_id", event.GetEgressInfo().GetEgressId()).Msg("egress ended")

	case lkwebhook.EventRoomFinished:
		h.onRoomFinished(c, event)

	default:
		// Unrecognized event tags are ignored, not errors.
		log.Debug().Str("module", "webhook").Str("event", event.GetEvent()).Msg("unhandled event")
	}

	c.Status(http.StatusOK)
}

// onTrackPublished starts a per-track transcription egress for audio
// tracks. Start failures are logged and swallowed so the platform never
// retries on our account.
func (h *Handler) onTrackPublished(c *gin.Context, event *lkproto.WebhookEvent) {
	roomName := domain.RoomName(event.GetRoom().GetName())
	trackID := event.GetTrack().GetSid()
	if roomName == "" || trackID == "" {
		return
	}
	if event.GetTrack().GetType() != lkproto.TrackType_AUDIO {
		return
	}

	log.Info().Str("module", "webhook").
		Str("room", roomName.String()).
		Str("track", trackID).
		Str("participant", event.GetParticipant().GetIdentity()).
		Msg("audio track published")

	// Best-effort: the result is discarded after logging.
	if err := h.egress.StartTrackEgress(c.Request.Context(), roomName, trackID); err != nil {
		log.Warn().Err(err).Str("module", "webhook").Str("room", roomName.String()).Str("track", trackID).Msg("track egress start failed")
	}
}

// onRoomFinished cleans up residual egress for the ended room. Advisory:
// the platform stops egress with the room anyway.
func (h *Handler) onRoomFinished(c *gin.Context, event *lkproto.WebhookEvent) {
	roomName := domain.RoomName(event.GetRoom().GetName())
	if roomName == "" {
		return
	}
	log.Info().Str("module", "webhook").Str("room", roomName.String()).Msg("room finished")

	if err := h.egress.StopRoomEgress(c.Request.Context(), roomName); err != nil {
		log.Warn().Err(err).Str("module", "webhook").Str("room", roomName.String()).Msg("residual egress stop failed")
	}
}
