package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Tushar-Sukhwal/ZoomOut/internal/adapters/relay"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/adapters/webhook"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/config"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags each browser with a stable cookie so logs can
// correlate requests from the same client.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// CORSMiddleware mirrors the permissive policy the client dev server needs.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SetupRouter wires the meeting API, the webhook endpoint, the egress
// ingress routes and the static client.
func SetupRouter(ctx context.Context, cfg *config.Config, api *API, hooks *webhook.Handler, rly *relay.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	vc := r.Group("/api/video-call")
	vc.POST("", api.CreateMeeting)
	vc.POST("/join", api.JoinMeeting)
	vc.POST("/leave", api.LeaveMeeting)
	vc.POST("/recorder", api.RecorderToken)

	// Signed event callbacks from the media platform.
	r.POST("/", hooks.Handle)

	// Egress audio ingress: per-track streams and the room-composite mix.
	r.GET("/egress/:room/:track", func(c *gin.Context) {
		rly.HandleEgress(ctx, c)
	})
	r.GET("/audio/:room/:track", func(c *gin.Context) {
		rly.HandleEgress(ctx, c)
	})

	return r
}
