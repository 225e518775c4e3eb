package smarther

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthorizationInfo holds the OAuth credential set for the cloud platform.
//
// The structure round-trips with the tokens.json snapshot. It is treated as
// a value: readers clone it before use and the token manager replaces it
// wholesale on refresh, so a partially updated credential is never visible.
type AuthorizationInfo struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Subkey       string    `json:"subscription_key"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresOn    time.Time `json:"expires_on"`
}

// RefreshNeeded reports whether the access token's remaining lifetime has
// fallen below threshold. A credential with no known expiry is always
// considered in need of refresh.
func (a AuthorizationInfo) RefreshNeeded(threshold time.Duration) bool {
	if a.ExpiresOn.IsZero() {
		return true
	}
	return time.Until(a.ExpiresOn) < threshold
}

// NormalizeExpiry fills in ExpiresOn from the access token's exp claim when
// the snapshot does not carry an expiry of its own. The token is parsed
// without signature verification: we only introspect our own credential,
// the platform remains the authority on validity.
func (a *AuthorizationInfo) NormalizeExpiry() {
	if !a.ExpiresOn.IsZero() || a.AccessToken == "" {
		return
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(a.AccessToken, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	a.ExpiresOn = exp.Time
}

// Plants is the response of the plant listing endpoint.
type Plants struct {
	Plants []Plant `json:"plants"`
}

// Plant identifies a managed site.
type Plant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// PlantDetail is a plant with its module topology.
type PlantDetail struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Modules []Module `json:"modules"`
}

// Module is an individually addressable thermostat device within a plant.
type Module struct {
	ID   string `json:"id"`
	Type string `json:"device,omitempty"`
}

// CachedTopology is the plant_topology.json snapshot: the ordered set of
// plants (and their modules) this bridge manages. Read-only during a run.
type CachedTopology struct {
	Plants []PlantDetail `json:"plants"`
}

// Plant returns the topology entry for the given plant id.
func (t CachedTopology) Plant(plantID string) (PlantDetail, bool) {
	for _, p := range t.Plants {
		if p.ID == plantID {
			return p, true
		}
	}
	return PlantDetail{}, false
}

// HasModule reports whether plantID/moduleID is a managed device.
func (t CachedTopology) HasModule(plantID, moduleID string) bool {
	p, ok := t.Plant(plantID)
	if !ok {
		return false
	}
	for _, m := range p.Modules {
		if m.ID == moduleID {
			return true
		}
	}
	return false
}

// SubscriptionInfo describes a cloud-side webhook registration.
type SubscriptionInfo struct {
	SubscriptionID string `json:"subscriptionId"`
	PlantID        string `json:"plantId,omitempty"`
	EndpointURL    string `json:"EndPointUrl,omitempty"`
}

// ModuleStatus is the payload pushed by the platform on a status change and
// returned by the device status endpoint.
type ModuleStatus struct {
	Chronothermostats []ThermostatStatus `json:"chronothermostats"`
}

// ThermostatStatus is the state of one thermostat at one point in time.
type ThermostatStatus struct {
	Function          string       `json:"function"`
	Mode              string       `json:"mode"`
	SetPoint          *Measurement `json:"setPoint,omitempty"`
	Time              string       `json:"time"`
	ActivationTime    string       `json:"activationTime,omitempty"`
	TemperatureFormat string       `json:"temperatureFormat,omitempty"`
	LoadState         string       `json:"loadState,omitempty"`
	Sender            *Sender      `json:"sender,omitempty"`
	Thermometer       *Instrument  `json:"thermometer,omitempty"`
	Hygrometer        *Instrument  `json:"hygrometer,omitempty"`
}

// Sender identifies the device a status originates from.
type Sender struct {
	AddressType string       `json:"addressType,omitempty"`
	System      string       `json:"system,omitempty"`
	Plant       *SenderPlant `json:"plant,omitempty"`
}

// SenderPlant is the plant/module pair inside a status sender block.
type SenderPlant struct {
	ID     string    `json:"id"`
	Module ModuleRef `json:"module"`
}

// ModuleRef is a bare module id reference.
type ModuleRef struct {
	ID string `json:"id"`
}

// Instrument is a sensor with a time series of measurements.
type Instrument struct {
	Measures []TimedMeasurement `json:"measures"`
}

// LastMeasurement returns the most recent measurement, or nil if the
// instrument has none.
func (i *Instrument) LastMeasurement() *TimedMeasurement {
	if i == nil || len(i.Measures) == 0 {
		return nil
	}
	return &i.Measures[len(i.Measures)-1]
}

// Measurement is a single value with a unit. Values are kept as strings to
// match the platform's wire format; use Float for numeric access.
type Measurement struct {
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// Float parses the measurement value as a float64.
func (m *Measurement) Float() (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m.Value, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// TimedMeasurement is a measurement with its sample timestamp.
type TimedMeasurement struct {
	Measurement
	Time string `json:"timeStamp,omitempty"`
}

// Thermostat functions accepted by SetStatusRequest.
const (
	FunctionHeating = "heating"
	FunctionCooling = "cooling"
)

// Thermostat modes accepted by SetStatusRequest.
const (
	ModeAutomatic  = "automatic"
	ModeManual     = "manual"
	ModeBoost      = "boost"
	ModeOff        = "off"
	ModeProtection = "protection"
)

// SetStatusRequest is a status-change command for one thermostat, as
// published to the set_status MQTT topic.
//
// Type selects the target mode; Value carries the mode's parameter:
// the target temperature for "manual", the boost slot for "boost",
// unused otherwise.
type SetStatusRequest struct {
	Type  string  `json:"type"`
	Value float64 `json:"value,omitempty"`
	Unit  string  `json:"unit,omitempty"`
}

// Validate checks that the request describes a command the platform can
// execute.
func (r SetStatusRequest) Validate() error {
	switch r.Type {
	case ModeAutomatic, ModeOff, ModeProtection:
		return nil
	case ModeManual, ModeBoost:
		if r.Value <= 0 {
			return ErrInvalidRequest
		}
		return nil
	default:
		return ErrInvalidRequest
	}
}
