package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Tushar-Sukhwal/ZoomOut/internal/core"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/domain"
)

type meetingRequest struct {
	Name   string `json:"name"`
	RoomID string `json:"roomId"`
}

type meetingResponse struct {
	Success      bool     `json:"success"`
	Token        string   `json:"token,omitempty"`
	RoomID       string   `json:"roomId,omitempty"`
	ExpiresAt    string   `json:"expiresAt,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// API composes the registry, token issuer and platform clients into the
// meeting endpoints.
type API struct {
	Registry core.Membership
	Tokens   core.TokenIssuer
	Rooms    core.RoomProvisioner
	Egress   core.EgressController
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, meetingResponse{Success: false, Message: msg})
}

// CreateMeeting handles POST /api/video-call. The room entry is created
// implicitly; the participant name defaults to Anonymous.
func (a *API) CreateMeeting(c *gin.Context) {
	var req meetingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" {
		fail(c, http.StatusBadRequest, "Room ID is required")
		return
	}
	name := req.Name
	if name == "" {
		name = domain.DefaultParticipantName
	}
	roomID := domain.RoomID(req.RoomID)

	participants := a.Registry.Create(roomID, name)

	token, expiresAt, err := a.Tokens.IssueToken(name, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "api").Str("room", req.RoomID).Msg("token issuance failed")
		fail(c, http.StatusInternalServerError, "Failed to create token")
		return
	}

	// Provisioning and egress run outside any membership lock and are
	// best-effort: the meeting stays usable without transcription.
	a.ensureRemote(c, roomID)

	c.JSON(http.StatusOK, meetingResponse{
		Success:      true,
		Token:        token,
		RoomID:       req.RoomID,
		ExpiresAt:    expiresAt.UTC().Format(time.RFC3339),
		Participants: participants,
	})
}

// JoinMeeting handles POST /api/video-call/join. Names are first come,
// first served per room.
func (a *API) JoinMeeting(c *gin.Context) {
	var req meetingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" || req.RoomID == "" {
		fail(c, http.StatusBadRequest, "Both name and roomId are required")
		return
	}
	roomID := domain.RoomID(req.RoomID)

	participants, err := a.Registry.Join(roomID, req.Name)
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		fail(c, http.StatusNotFound, "Meeting not found")
		return
	case errors.Is(err, domain.ErrNameTaken):
		fail(c, http.StatusConflict, "This name is already taken in this meeting. Please choose another name.")
		return
	case err != nil:
		log.Error().Err(err).Str("module", "api").Str("room", req.RoomID).Msg("join failed")
		fail(c, http.StatusInternalServerError, "Failed to join meeting")
		return
	}

	token, _, err := a.Tokens.IssueToken(req.Name, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "api").Str("room", req.RoomID).Msg("token issuance failed")
		fail(c, http.StatusInternalServerError, "Failed to join meeting")
		return
	}

	a.ensureRemote(c, roomID)

	c.JSON(http.StatusOK, meetingResponse{
		Success:      true,
		Token:        token,
		RoomID:       req.RoomID,
		Participants: participants,
	})
}

// LeaveMeeting handles POST /api/video-call/leave. Leaving an unknown room
// or name is a no-op; the call always succeeds.
func (a *API) LeaveMeeting(c *gin.Context) {
	var req meetingRequest
	_ = c.ShouldBindJSON(&req)

	if req.RoomID != "" && req.Name != "" {
		roomID := domain.RoomID(req.RoomID)
		if empty := a.Registry.Leave(roomID, req.Name); empty {
			if err := a.Egress.StopRoomEgress(c.Request.Context(), roomID.Name()); err != nil {
				log.Warn().Err(err).Str("module", "api").Str("room", req.RoomID).Msg("egress stop failed")
			}
		}
	}

	c.JSON(http.StatusOK, meetingResponse{Success: true})
}

// RecorderToken handles POST /api/video-call/recorder. It mints a
// subscribe-only credential for a recording bot joining an existing
// meeting; the identity carries a timestamp so concurrent recorders in
// the same room stay distinguishable.
func (a *API) RecorderToken(c *gin.Context) {
	var req meetingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" {
		fail(c, http.StatusBadRequest, "Room ID is required")
		return
	}
	roomID := domain.RoomID(req.RoomID)
	if !a.Registry.Exists(roomID) {
		fail(c, http.StatusNotFound, "Meeting not found")
		return
	}

	identity := fmt.Sprintf("recorder-%s-%d", req.RoomID, time.Now().UnixMilli())
	token, err := a.Tokens.IssueRecorderToken(identity, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "api").Str("room", req.RoomID).Msg("recorder token issuance failed")
		fail(c, http.StatusInternalServerError, "Failed to create token")
		return
	}

	c.JSON(http.StatusOK, meetingResponse{
		Success: true,
		Token:   token,
		RoomID:  req.RoomID,
	})
}

// ensureRemote makes sure the platform room exists and its audio egress is
// running. Both calls are logged-and-discarded on failure per the
// best-effort transcription contract.
func (a *API) ensureRemote(c *gin.Context, roomID domain.RoomID) {
	ctx := c.Request.Context()
	roomName := roomID.Name()

	if err := a.Rooms.EnsureRoom(ctx, roomName); err != nil {
		log.Warn().Err(err).Str("module", "api").Str("room", roomName.String()).Msg("room provisioning failed")
		return
	}
	if err := a.Egress.EnsureRoomEgress(ctx, roomName); err != nil {
		log.Warn().Err(err).Str("module", "api").Str("room", roomName.String()).Msg("egress start failed")
	}
}
