// Package influxdb records numeric facet values and instrument lifecycle
// events as InfluxDB time series, using influxdb-client-go v2.
//
// Points:
//
//	facet_value       tags instance, module, classname, facet, unit; field value
//	instrument_event  tags instance, module, classname; field event
//
// Writes go through the non-blocking batched write API (batch_size and
// flush_interval in the influxdb config section). Asynchronous write errors
// reach the callback set with SetOnError.
package influxdb
