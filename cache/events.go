package cache

// Event types published by Manager.
const (
	EventSet     = "set"
	EventGet     = "get"
	EventHit     = "hit"
	EventMiss    = "miss"
	EventDelete  = "delete"
	EventClear   = "clear"
	EventExpired = "expired"
	EventEvict   = "evict"
	EventError   = "error"
)

// DefaultTopic is the topic Manager publishes on unless WithEvents names another.
const DefaultTopic = "cache"
