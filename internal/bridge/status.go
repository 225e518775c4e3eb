package bridge

import "smartherbridge/internal/smarther"

// StatusUpdate is one thermostat status travelling from the ingress
// server to the MQTT bridge.
type StatusUpdate struct {
	PlantID  string
	ModuleID string
	Status   smarther.ThermostatStatus
}

// StatusSummary is the flattened form published on the module's status
// topic. Numeric fields are pointers so readings the platform did not
// include are omitted rather than zeroed.
type StatusSummary struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	Humidity       *float64 `json:"humidity,omitempty"`
	SetPoint       *float64 `json:"set_point,omitempty"`
	Mode           string   `json:"mode"`
	Function       string   `json:"function"`
	Time           string   `json:"time,omitempty"`
	ActivationTime string   `json:"activation_time,omitempty"`
}

// Summarize flattens a platform status into the published form.
func Summarize(status smarther.ThermostatStatus) StatusSummary {
	summary := StatusSummary{
		Mode:           status.Mode,
		Function:       status.Function,
		Time:           status.Time,
		ActivationTime: status.ActivationTime,
	}

	if v, ok := status.SetPoint.Float(); ok {
		summary.SetPoint = &v
	}
	if m := status.Thermometer.LastMeasurement(); m != nil {
		if v, ok := m.Float(); ok {
			summary.Temperature = &v
		}
	}
	if m := status.Hygrometer.LastMeasurement(); m != nil {
		if v, ok := m.Float(); ok {
			summary.Humidity = &v
		}
	}

	return summary
}
