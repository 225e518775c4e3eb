// Package influxdb provides an optional time-series sink for thermostat
// telemetry (temperature, humidity, set point).
//
// The sink is disabled by default. When enabled, every status the bridge
// receives from the cloud is also written here, non-blocking and batched,
// so a slow or unreachable InfluxDB never stalls MQTT publication.
package influxdb
