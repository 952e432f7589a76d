// Package mqttctl bridges the control surface to an MQTT broker.
//
// The bridge subscribes to <topic>/set, where each message is a JSON
// control.Command, and publishes the control status as a retained message
// on <topic>/status after every change. <topic>/online carries a retained
// "true" while the bridge is connected and "false" as its last will.
//
// Broker is an embedded broker for setups without one.
package mqttctl
