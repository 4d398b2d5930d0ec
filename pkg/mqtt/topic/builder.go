package topic

import (
	"fmt"
)

// Topic segments shared by the daemon and its remote callers.
// Changing these values breaks existing callers.
const (
	// SuffixBankRequest carries commands to a device.
	// Structure: {root}/bank/request/{deviceID}
	SuffixBankRequest = "bank/request"

	// SuffixBankResponse is the reply topic used when a request names no response topic.
	// Structure: {root}/bank/response/{deviceID}
	SuffixBankResponse = "bank/response"

	// SuffixBankReply is the private reply topic of one caller.
	// Structure: {root}/bank/reply/{callerID}
	SuffixBankReply = "bank/reply"

	// SuffixOnline carries the retained online flag and the last will.
	// Structure: {root}/online/{deviceID}
	SuffixOnline = "online"
)

// TopicBuilder encapsulates the logic for constructing MQTT topic strings.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "bankupdate/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: root}
}

// BankRequest returns the topic a device listens on for commands.
func (b *TopicBuilder) BankRequest(deviceID string) string {
	return b.build(SuffixBankRequest, deviceID)
}

// BankRequestWildcard matches the requests of every device.
// Result: {root}/bank/request/+
func (b *TopicBuilder) BankRequestWildcard() string {
	return b.build(SuffixBankRequest, Wildcard)
}

// BankResponse returns the default reply topic of a device.
func (b *TopicBuilder) BankResponse(deviceID string) string {
	return b.build(SuffixBankResponse, deviceID)
}

// BankReply returns the topic a caller receives its replies on.
func (b *TopicBuilder) BankReply(callerID string) string {
	return b.build(SuffixBankReply, callerID)
}

// Online returns the presence topic of a device.
func (b *TopicBuilder) Online(deviceID string) string {
	return b.build(SuffixOnline, deviceID)
}

// build is a private helper to construct the final topic string.
// Pattern: {root}/{suffix}/{identifier}
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
