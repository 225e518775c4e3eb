package mqtt

import (
	"fmt"
	"strings"
)

// Topic suffixes for the bridge's per-module topics.
const (
	// suffixSetStatus is the command direction: local clients publish
	// status-change requests here.
	suffixSetStatus = "set_status"

	// suffixStatus is the state direction: the bridge publishes
	// thermostat status summaries here.
	suffixStatus = "status"
)

// Topics builds and parses topics under one configured base topic.
//
// The scheme is {base}/{plant_id}/{module_id}/{set_status|status}, plus a
// single {base}/bridge/status topic for the bridge's own online state.
type Topics struct {
	Base string
}

// SetStatus returns the command topic for one thermostat module.
//
// Example: smarther/plantA/modA/set_status
func (t Topics) SetStatus(plantID, moduleID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Base, plantID, moduleID, suffixSetStatus)
}

// Status returns the state topic for one thermostat module.
//
// Example: smarther/plantA/modA/status
func (t Topics) Status(plantID, moduleID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Base, plantID, moduleID, suffixStatus)
}

// BridgeStatus returns the bridge's own online/offline topic.
//
// Example: smarther/bridge/status
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/%s", t.Base, suffixStatus)
}

// ParseSetStatus extracts plant and module ids from a command topic.
// It reports ok=false for topics outside the set_status scheme.
func (t Topics) ParseSetStatus(topic string) (plantID, moduleID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Base+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != suffixSetStatus {
		return "", "", false
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
