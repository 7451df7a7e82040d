package mqtt

import "strings"

// TopicPrefix is the root of every topic the agent publishes.
const TopicPrefix = "kgagent"

// Topics provides builders for the agent's own MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Event("device.integrated")
//	// Returns: "kgagent/event/device.integrated"
type Topics struct{}

// SystemStatus returns the retained online/offline status topic.
//
// Example: kgagent/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/status"
}

// Event returns the topic agent events of the given type are published on.
//
// Example: kgagent/event/device.retired
func (Topics) Event(eventType string) string {
	return TopicPrefix + "/event/" + eventType
}

// AllEvents returns the wildcard pattern matching every agent event.
func (Topics) AllEvents() string {
	return TopicPrefix + "/event/#"
}

// IsAgent reports whether topic was published by the agent itself.
func (Topics) IsAgent(topic string) bool {
	return topic == TopicPrefix || strings.HasPrefix(topic, TopicPrefix+"/")
}
