// ABOUTME: Manifest connection, device and hardware snapshot types
// ABOUTME: Typed candidates are converted into generic records before merging

package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ConnectionsKey is the top-level manifest key holding the connection list.
const ConnectionsKey = "lorawanconnections"

// Connection is a manifest snapshot of one LoRaWAN connection of this node.
type Connection struct {
	ConnectionName         string  `json:"connection_name"`
	CreatedAt              string  `json:"created_at"`
	LastSeenAt             string  `json:"last_seen_at"`
	Margin                 float64 `json:"margin"`
	ExpectedUplinkInterval uint32  `json:"expected_uplink_interval_sec"`
	ConnectionType         string  `json:"connection_type"`
	Device                 Device  `json:"lorawandevice"`
}

// Device is the embedded device snapshot of a Connection.
type Device struct {
	DevEUI       string    `json:"deveui"`
	Name         string    `json:"name"`
	BatteryLevel float64   `json:"battery_level"`
	Hardware     *Hardware `json:"hardware,omitempty"`
}

// Hardware is the embedded hardware snapshot of a Device.
type Hardware struct {
	Hardware     string   `json:"hardware"`
	HwModel      string   `json:"hw_model"`
	HwVersion    string   `json:"hw_version"`
	SwVersion    string   `json:"sw_version"`
	Manufacturer string   `json:"manufacturer"`
	Datasheet    string   `json:"datasheet"`
	Capabilities []string `json:"capabilities"`
	Description  string   `json:"description"`
}

// Record is a decoded JSON object as stored in the manifest.
type Record = map[string]any

// Document is a decoded manifest.
type Document map[string]any

// Connections returns the connection entries of the document. Entries that are
// not JSON objects are skipped.
func (d Document) Connections() []Record {
	list, _ := d[ConnectionsKey].([]any)
	out := make([]Record, 0, len(list))
	for _, item := range list {
		if rec, ok := item.(map[string]any); ok {
			out = append(out, rec)
		}
	}
	return out
}

// HasConnections reports whether the document contains any connection entry.
func (d Document) HasConnections() bool {
	list, ok := d[ConnectionsKey].([]any)
	return ok && len(list) > 0
}

// FindDevice reports whether a connection for devEUI is present.
func (d Document) FindDevice(devEUI string) bool {
	return d.indexOf(devEUI) >= 0
}

// indexOf returns the position of devEUI in the raw connection list, or -1.
func (d Document) indexOf(devEUI string) int {
	list, _ := d[ConnectionsKey].([]any)
	for i, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if recordDevEUI(rec) == devEUI {
			return i
		}
	}
	return -1
}

// Decode converts a connection record back into its typed form.
func Decode(rec Record) (Connection, error) {
	var c Connection
	data, err := json.Marshal(rec)
	if err != nil {
		return c, fmt.Errorf("encoding record: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decoding record: %w", err)
	}
	return c, nil
}

func recordDevEUI(rec Record) string {
	dev, _ := rec["lorawandevice"].(map[string]any)
	eui, _ := dev["deveui"].(string)
	return eui
}

// toRecord round-trips a typed connection through JSON so it can be
// validated and merged key by key.
func toRecord(c Connection) (Record, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding candidate: %w", err)
	}
	return decodeObject(data)
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
