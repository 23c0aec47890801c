package realtime

import "time"

// Security/performance limits for the websocket plane.
const (
	// Max bytes per websocket frame read (hard limit). Inbound envelopes are
	// small control frames (hello, typing, delivered); 16 KiB is generous.
	maxFrameBytes = 16 << 10

	// Heartbeat defaults (overridable by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (inbound events per window). Typing
	// signals dominate this budget.
	rateLimitEvents = 240
	rateLimitWindow = 10 * time.Second
)
