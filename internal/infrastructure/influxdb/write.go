package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteMeasurement records a single thermostat reading.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Calls on a disconnected client are dropped silently, telemetry is
// strictly best effort.
//
// Example:
//
//	client.WriteMeasurement("plantA", "modA", "temperature_c", 21.5)
//	client.WriteMeasurement("plantA", "modA", "humidity_percent", 48.0)
func (c *Client) WriteMeasurement(plantID, moduleID, field string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"thermostat",
		map[string]string{
			"plant_id":  plantID,
			"module_id": moduleID,
		},
		map[string]interface{}{
			field: value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
