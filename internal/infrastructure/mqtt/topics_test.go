package mqtt

import "testing"

func TestTopicsSetStatus(t *testing.T) {
	topics := Topics{Base: "smarther"}

	got := topics.SetStatus("plantA", "modA")
	want := "smarther/plantA/modA/set_status"
	if got != want {
		t.Errorf("SetStatus() = %q, want %q", got, want)
	}
}

func TestTopicsStatus(t *testing.T) {
	topics := Topics{Base: "smarther"}

	got := topics.Status("plantA", "modA")
	want := "smarther/plantA/modA/status"
	if got != want {
		t.Errorf("Status() = %q, want %q", got, want)
	}
}

func TestTopicsBridgeStatus(t *testing.T) {
	topics := Topics{Base: "smarther"}

	got := topics.BridgeStatus()
	want := "smarther/bridge/status"
	if got != want {
		t.Errorf("BridgeStatus() = %q, want %q", got, want)
	}
}

func TestTopicsParseSetStatus(t *testing.T) {
	topics := Topics{Base: "smarther"}

	tests := []struct {
		name       string
		topic      string
		wantPlant  string
		wantModule string
		wantOK     bool
	}{
		{
			name:       "valid command topic",
			topic:      "smarther/plantA/modA/set_status",
			wantPlant:  "plantA",
			wantModule: "modA",
			wantOK:     true,
		},
		{
			name:   "status topic is not a command",
			topic:  "smarther/plantA/modA/status",
			wantOK: false,
		},
		{
			name:   "wrong base topic",
			topic:  "other/plantA/modA/set_status",
			wantOK: false,
		},
		{
			name:   "missing module segment",
			topic:  "smarther/plantA/set_status",
			wantOK: false,
		},
		{
			name:   "extra segment",
			topic:  "smarther/plantA/modA/extra/set_status",
			wantOK: false,
		},
		{
			name:   "empty plant id",
			topic:  "smarther//modA/set_status",
			wantOK: false,
		},
		{
			name:   "empty module id",
			topic:  "smarther/plantA//set_status",
			wantOK: false,
		},
		{
			name:   "bare base",
			topic:  "smarther",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plant, module, ok := topics.ParseSetStatus(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("ParseSetStatus(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if plant != tt.wantPlant {
				t.Errorf("plant = %q, want %q", plant, tt.wantPlant)
			}
			if module != tt.wantModule {
				t.Errorf("module = %q, want %q", module, tt.wantModule)
			}
		})
	}
}

func TestParseSetStatusRoundTrip(t *testing.T) {
	topics := Topics{Base: "home/heating"}

	built := topics.SetStatus("p1", "m1")
	plant, module, ok := topics.ParseSetStatus(built)
	if !ok {
		t.Fatalf("ParseSetStatus(%q) not ok", built)
	}
	if plant != "p1" || module != "m1" {
		t.Errorf("round trip = (%q, %q), want (p1, m1)", plant, module)
	}
}
