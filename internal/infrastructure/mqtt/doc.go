// Package mqtt publishes instrument lifecycle and facet events to an MQTT
// broker using paho.mqtt.golang.
//
// Topic layout:
//
//	instrumental/system/status                       retained online/offline
//	instrumental/instrument/{id}/state               retained opened/closed
//	instrumental/instrument/{id}/facet/{name}        facet value changes
//
// {id} is the per-instance UUID from driver.Base.ID.
//
// Connections auto-reconnect. A Last Will marks the client offline when it
// drops without Close. Credentials belong in INSTRUMENTAL_MQTT_USERNAME and
// INSTRUMENTAL_MQTT_PASSWORD rather than the config file.
package mqtt
