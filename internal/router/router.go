package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/live-session-service/internal/handler"
	"github.com/psds-microservice/live-session-service/pkg/constants"
)

// New builds the HTTP router. Everything except health and the recorder webhook requires a
// bearer token (auth).
func New(
	live *handler.LiveHandler,
	ws *handler.LiveWSHandler,
	recording *handler.RecordingHandler,
	health *handler.HealthHandler,
	auth gin.HandlerFunc,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)

	// Recorder callback, authenticated by shared secret
	r.POST(constants.PathLive+"/recordings/:recordingId/status", recording.Status)

	// WebSocket: /ws/live/:sessionId?token=
	r.GET(constants.PathWSLive+"/:sessionId", auth, ws.ServeWS)

	g := r.Group(constants.PathLive, auth)
	{
		g.POST("/start", live.Start)
		g.POST("/join/:sessionId", live.Join)
		g.POST("/leave/:sessionId", live.Leave)
		g.POST("/end/:sessionId", live.End)
		g.POST("/cancel/:sessionId", live.Cancel)
		g.GET("/active", live.Active)

		g.GET("/:sessionId", live.Get)
		g.GET("/:sessionId/participants", live.Participants)
		g.GET("/:sessionId/messages", live.Messages)
		g.GET("/:sessionId/captions", live.Captions)
		g.POST("/:sessionId/captions", live.SubmitCaption)
		g.GET("/:sessionId/recordings", live.Recordings)
		g.POST("/:sessionId/recording/start", live.StartRecording)
		g.POST("/:sessionId/recording/stop", live.StopRecording)
		g.POST("/:sessionId/translation", live.Translation)
	}

	return r
}
