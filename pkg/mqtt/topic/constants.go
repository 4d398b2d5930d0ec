package topic

// MQTT topic filter wildcards.
const (
	// Wildcard matches exactly one topic level.
	Wildcard = "+"

	// MultiWildcard matches the remaining levels and must come last.
	MultiWildcard = "#"
)

// Delivery settings shared by bank requests, replies and presence messages.
const (
	QoS             = 1
	ContentTypeJSON = "application/json"

	PresenceOnline  = "online"
	PresenceOffline = "offline"
)
