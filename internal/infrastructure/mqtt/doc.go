// Package mqtt connects the agent to the device telemetry bus.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Subscriptions with wildcard support, restored on reconnect
//   - Panic-safe delivery of received messages
//   - Last Will and Testament (LWT) on the agent status topic
//   - Publishing agent events for other bus consumers
//
// # Delivery
//
// Messages are delivered in arrival order on paho's router goroutine.
// A handler that blocks holds back later messages, which is how the
// agent's bounded queue pushes back on the broker.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("#", 1, func(topic string, payload []byte) error {
//	    return agent.Submit(ctx, topic, payload)
//	})
//
// Telemetry published by devices never shares the kgagent/ prefix, so a
// "#" subscriber filters the agent's own traffic with Topics{}.IsAgent.
package mqtt
