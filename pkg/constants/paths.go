package constants

// Пути health, ready и WebSocket; REST API живых занятий висит под PathLive.
const (
	PathHealth = "/health"
	PathReady  = "/ready"
	PathLive   = "/live"
	PathWSLive = "/ws/live"
)
