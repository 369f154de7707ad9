// Package mqtt provides the Roku bridge's connection to the Gray Logic bus.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with input validation
//   - Subscriptions that survive reconnects
//   - Last Will and Testament so Core sees the bridge go offline
//
// # Architecture
//
//	Gray Logic Core ↔ MQTT Broker ↔ Roku Bridge ↔ Roku devices
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{Topic: topic, Payload: payload})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/roku/+", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
