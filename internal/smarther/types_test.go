package smarther

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestRefreshNeeded(t *testing.T) {
	threshold := 5 * time.Minute

	tests := []struct {
		name      string
		expiresOn time.Time
		want      bool
	}{
		{"far in the future", time.Now().Add(24 * time.Hour), false},
		{"just above threshold", time.Now().Add(6 * time.Minute), false},
		{"below threshold", time.Now().Add(1 * time.Minute), true},
		{"already expired", time.Now().Add(-time.Hour), true},
		{"no expiry known", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := AuthorizationInfo{ExpiresOn: tt.expiresOn}
			if got := auth.RefreshNeeded(threshold); got != tt.want {
				t.Errorf("RefreshNeeded() = %v, want %v", got, tt.want)
			}
		})
	}
}

// unsignedJWT builds a JWT with the given exp claim and an empty signature.
// ParseUnverified accepts it, which is all NormalizeExpiry needs.
func unsignedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"exp":%d}`, exp.Unix())))
	return header + "." + claims + "."
}

func TestNormalizeExpiry_FromJWT(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	auth := AuthorizationInfo{AccessToken: unsignedJWT(t, exp)}

	auth.NormalizeExpiry()

	if auth.ExpiresOn.IsZero() {
		t.Fatal("NormalizeExpiry() did not fill ExpiresOn from JWT exp claim")
	}
	if !auth.ExpiresOn.Equal(exp) {
		t.Errorf("ExpiresOn = %v, want %v", auth.ExpiresOn, exp)
	}
}

func TestNormalizeExpiry_KeepsExistingExpiry(t *testing.T) {
	existing := time.Now().Add(time.Hour)
	auth := AuthorizationInfo{
		AccessToken: unsignedJWT(t, time.Now().Add(48*time.Hour)),
		ExpiresOn:   existing,
	}

	auth.NormalizeExpiry()

	if !auth.ExpiresOn.Equal(existing) {
		t.Errorf("ExpiresOn = %v, want untouched %v", auth.ExpiresOn, existing)
	}
}

func TestNormalizeExpiry_OpaqueToken(t *testing.T) {
	auth := AuthorizationInfo{AccessToken: "not-a-jwt"}
	auth.NormalizeExpiry()
	if !auth.ExpiresOn.IsZero() {
		t.Errorf("ExpiresOn = %v, want zero for opaque token", auth.ExpiresOn)
	}
}

func TestCachedTopology_Lookups(t *testing.T) {
	topo := CachedTopology{
		Plants: []PlantDetail{
			{ID: "plantA", Modules: []Module{{ID: "modA"}, {ID: "modB"}}},
			{ID: "plantB", Modules: []Module{{ID: "modC"}}},
		},
	}

	if _, ok := topo.Plant("plantA"); !ok {
		t.Error("Plant(plantA) not found")
	}
	if _, ok := topo.Plant("plantX"); ok {
		t.Error("Plant(plantX) should not be found")
	}
	if !topo.HasModule("plantA", "modB") {
		t.Error("HasModule(plantA, modB) = false, want true")
	}
	if topo.HasModule("plantA", "modC") {
		t.Error("HasModule(plantA, modC) = true, want false")
	}
	if topo.HasModule("plantX", "modA") {
		t.Error("HasModule(plantX, modA) = true, want false")
	}
}

func TestInstrument_LastMeasurement(t *testing.T) {
	var nilInst *Instrument
	if nilInst.LastMeasurement() != nil {
		t.Error("LastMeasurement() on nil instrument should be nil")
	}

	empty := &Instrument{}
	if empty.LastMeasurement() != nil {
		t.Error("LastMeasurement() on empty instrument should be nil")
	}

	inst := &Instrument{Measures: []TimedMeasurement{
		{Measurement: Measurement{Value: "20.1"}},
		{Measurement: Measurement{Value: "21.5"}},
	}}
	last := inst.LastMeasurement()
	if last == nil || last.Value != "21.5" {
		t.Errorf("LastMeasurement() = %+v, want value 21.5", last)
	}
}

func TestMeasurement_Float(t *testing.T) {
	m := &Measurement{Value: "21.5", Unit: "C"}
	v, ok := m.Float()
	if !ok || v != 21.5 {
		t.Errorf("Float() = %v, %v; want 21.5, true", v, ok)
	}

	bad := &Measurement{Value: "warm"}
	if _, ok := bad.Float(); ok {
		t.Error("Float() on non-numeric value should report false")
	}

	var nilM *Measurement
	if _, ok := nilM.Float(); ok {
		t.Error("Float() on nil measurement should report false")
	}
}

func TestSetStatusRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     SetStatusRequest
		wantErr bool
	}{
		{"automatic", SetStatusRequest{Type: ModeAutomatic}, false},
		{"off", SetStatusRequest{Type: ModeOff}, false},
		{"protection", SetStatusRequest{Type: ModeProtection}, false},
		{"boost with value", SetStatusRequest{Type: ModeBoost, Value: 1}, false},
		{"boost without value", SetStatusRequest{Type: ModeBoost}, true},
		{"manual with setpoint", SetStatusRequest{Type: ModeManual, Value: 21}, false},
		{"manual without setpoint", SetStatusRequest{Type: ModeManual}, true},
		{"unknown type", SetStatusRequest{Type: "party"}, true},
		{"empty", SetStatusRequest{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestModuleStatus_Decode(t *testing.T) {
	payload := `{
	  "chronothermostats": [{
	    "function": "heating",
	    "mode": "automatic",
	    "setPoint": {"value": "21.0", "unit": "C"},
	    "time": "2026-08-20T10:15:00Z",
	    "sender": {"plant": {"id": "plantA", "module": {"id": "modA"}}},
	    "thermometer": {"measures": [{"value": "20.4", "timeStamp": "2026-08-20T10:14:00Z"}]},
	    "hygrometer": {"measures": [{"value": "41.0"}]}
	  }]
	}`

	var status ModuleStatus
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(status.Chronothermostats) != 1 {
		t.Fatalf("got %d chronothermostats, want 1", len(status.Chronothermostats))
	}

	st := status.Chronothermostats[0]
	if st.Sender == nil || st.Sender.Plant == nil {
		t.Fatal("sender block missing")
	}
	if st.Sender.Plant.ID != "plantA" || st.Sender.Plant.Module.ID != "modA" {
		t.Errorf("sender = %s/%s, want plantA/modA", st.Sender.Plant.ID, st.Sender.Plant.Module.ID)
	}
	if got := st.Thermometer.LastMeasurement(); got == nil || got.Value != "20.4" {
		t.Errorf("thermometer last measurement = %+v, want 20.4", got)
	}
}
