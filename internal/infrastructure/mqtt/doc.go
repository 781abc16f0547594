// Package mqtt provides the MQTT client the gateway uses to receive point
// values from the collector.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - A retained GatewayStatus document, with a last will for offline detection
//   - Value topic building and parsing
//
// # Topics
//
// The collector publishes one batch per device poll on
//
//	pulseone/{tenant}/values/{deviceId}
//
// and the gateway announces its own state, retained, on pulsegw/system/status:
// online on every session, offline on Close or through the last will, and
// periodic heartbeats carrying the ingest counters (see PublishStatus).
//
// # Security Considerations
//
//   - Use TLS outside development (cfg.Broker.TLS=true)
//   - Credentials come from PULSEGW_MQTT_USERNAME / PULSEGW_MQTT_PASSWORD
//   - The tenant in a topic is trusted; restrict publishers with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceValues(), 1,
//	    func(topic string, payload []byte) error {
//	        tenantID, deviceID, err := mqtt.ParseValueTopic(topic)
//	        ...
//	    })
package mqtt
