package mqtt

import (
	"encoding/json"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize bounds published payloads (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic and waits for the
// broker to acknowledge it.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	token, err := c.send(topic, payload, qos, retained)
	if err != nil {
		return err
	}
	return waitPublished(token)
}

// Broadcast publishes an agent event as JSON on Topics{}.Event(channel).
//
// It returns as soon as the message is queued. Broadcast is called from
// the message handler, which must not stall on broker acknowledgments, so
// the token is awaited on its own goroutine and failures are only logged.
func (c *Client) Broadcast(channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.warn("encoding MQTT event failed", "channel", channel, "error", err)
		return
	}
	token, err := c.send(Topics{}.Event(channel), data, byte(c.cfg.QoS), false) //nolint:gosec // QoS validated by config
	if err != nil {
		c.warn("publishing MQTT event failed", "channel", channel, "error", err)
		return
	}
	go func() {
		if err := waitPublished(token); err != nil {
			c.warn("publishing MQTT event failed", "channel", channel, "error", err)
		}
	}()
}

// send validates a publish and hands it to paho without waiting.
func (c *Client) send(topic string, payload []byte, qos byte, retained bool) (pahomqtt.Token, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if qos > maxQoS {
		return nil, ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.client.Publish(topic, qos, retained, payload), nil
}

func waitPublished(token pahomqtt.Token) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (c *Client) warn(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}
