package limiter

import "time"

// LimitBy types
const (
	LimitByIP       = "ip"
	LimitByDeviceID = "device_id"
	LimitByUserID   = "user_id"
)

// Storage types
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Request headers (HTTP) and metadata keys (gRPC) carrying caller identity.
const (
	HeaderDeviceID = "X-Device-ID"
	HeaderUserID   = "X-User-ID"

	MetadataDeviceID = "x-device-id"
	MetadataUserID   = "x-user-id"
)

const (
	defaultRedisKeyPrefix = "ratelimit:"
	// minDrainWait keeps the drain loop from spinning when the next token is due immediately.
	minDrainWait = time.Millisecond
)
