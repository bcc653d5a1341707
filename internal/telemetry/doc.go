// Package telemetry turns driver session events into MQTT messages and
// InfluxDB points.
//
// A Listener is attached to the session when the mqtt or influxdb sections
// of the configuration are enabled:
//
//	l := telemetry.New(telemetry.WithPublisher(mqttClient), telemetry.WithRecorder(influx))
//	session := driver.NewSession(driver.WithListener(l))
//
// Every open and close is published retained on
// instrumental/instrument/{id}/state. Every facet set that reaches the
// device is published on instrumental/instrument/{id}/facet/{name}, and
// numeric values (quantities, numbers, booleans as 0/1) are recorded as
// facet_value points.
package telemetry
