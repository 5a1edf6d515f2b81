// ABOUTME: ChirpStack uplink event model and parser for MQTT notification payloads
// ABOUTME: Validates the deviceInfo block; radio metadata is decoded lazily for debug logging

package uplink

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Parse errors
var (
	ErrMalformed         = errors.New("malformed uplink event")
	ErrMissingDeviceInfo = errors.New("uplink event has no deviceInfo")
	ErrInvalidDevEUI     = errors.New("invalid devEui")
	ErrMissingProfile    = errors.New("uplink event has no deviceProfileId")
)

// devEUILen is the byte length of a LoRaWAN DevEUI.
const devEUILen = 8

// Event is a ChirpStack v4 uplink event. Only DeviceInfo is validated;
// the radio metadata stays raw until Receptions or Transmission decode it.
type Event struct {
	// DeduplicationID is empty when the event carried none or an invalid one.
	DeduplicationID string
	// InvalidDeduplicationID holds a deduplicationId that was not a UUID.
	InvalidDeduplicationID string
	DeviceInfo             *DeviceInfo

	rxInfo json.RawMessage
	txInfo json.RawMessage
}

// envelope is the top level of the event. Everything but deviceInfo is
// optional diagnostics and must not fail the parse.
type envelope struct {
	DeduplicationID json.RawMessage `json:"deduplicationId"`
	DeviceInfo      json.RawMessage `json:"deviceInfo"`
	RxInfo          json.RawMessage `json:"rxInfo"`
	TxInfo          json.RawMessage `json:"txInfo"`
}

// DeviceInfo identifies the device that sent the uplink.
type DeviceInfo struct {
	TenantID          string            `json:"tenantId"`
	TenantName        string            `json:"tenantName"`
	ApplicationID     string            `json:"applicationId"`
	ApplicationName   string            `json:"applicationName"`
	DeviceProfileID   string            `json:"deviceProfileId"`
	DeviceProfileName string            `json:"deviceProfileName"`
	DeviceName        string            `json:"deviceName"`
	DevEUI            string            `json:"devEui"`
	Tags              map[string]string `json:"tags"`
}

// RxInfo is the reception metadata reported by one gateway.
type RxInfo struct {
	GatewayID string  `json:"gatewayId"`
	UplinkID  uint32  `json:"uplinkId"`
	RSSI      float64 `json:"rssi"`
	SNR       float64 `json:"snr"`
}

// TxInfo is the transmission metadata of the uplink.
type TxInfo struct {
	Frequency  uint32     `json:"frequency"`
	Modulation Modulation `json:"modulation"`
}

// Modulation holds the modulation parameters; only LoRa is modelled.
type Modulation struct {
	LoRa *LoRaModulation `json:"lora"`
}

// LoRaModulation holds LoRa modulation parameters.
type LoRaModulation struct {
	Bandwidth       uint32 `json:"bandwidth"`
	SpreadingFactor uint32 `json:"spreadingFactor"`
	CodeRate        string `json:"codeRate"`
}

// Parse decodes an uplink event and validates the fields needed to identify
// the device. The devEui is returned lower-cased. A deduplicationId that is
// not a UUID is moved to InvalidDeduplicationID instead of failing the parse.
func Parse(payload []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if isNull(env.DeviceInfo) {
		return nil, ErrMissingDeviceInfo
	}
	var info DeviceInfo
	if err := json.Unmarshal(env.DeviceInfo, &info); err != nil {
		return nil, fmt.Errorf("%w: deviceInfo: %v", ErrMalformed, err)
	}

	eui := strings.ToLower(strings.TrimSpace(info.DevEUI))
	if err := ValidateDevEUI(eui); err != nil {
		return nil, err
	}
	info.DevEUI = eui

	if info.DeviceProfileID == "" {
		return nil, ErrMissingProfile
	}

	ev := &Event{
		DeviceInfo: &info,
		rxInfo:     env.RxInfo,
		txInfo:     env.TxInfo,
	}
	ev.DeduplicationID, ev.InvalidDeduplicationID = deduplicationID(env.DeduplicationID)
	return ev, nil
}

// deduplicationID returns the id when raw is a UUID string, otherwise the
// raw text as the invalid id.
func deduplicationID(raw json.RawMessage) (valid, invalid string) {
	if isNull(raw) {
		return "", ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", string(raw)
	}
	if s == "" {
		return "", ""
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", s
	}
	return s, ""
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// ValidateDevEUI checks that s is a hex encoded 8 byte DevEUI.
func ValidateDevEUI(s string) error {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != devEUILen {
		return fmt.Errorf("%w: %q", ErrInvalidDevEUI, s)
	}
	return nil
}

// Receptions decodes rxInfo. Entries that fail to decode are skipped and
// reported in the joined error.
func (e *Event) Receptions() ([]RxInfo, error) {
	if isNull(e.rxInfo) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(e.rxInfo, &items); err != nil {
		return nil, fmt.Errorf("rxInfo: %w", err)
	}

	out := make([]RxInfo, 0, len(items))
	var errs []error
	for i, item := range items {
		var rx RxInfo
		if err := json.Unmarshal(item, &rx); err != nil {
			errs = append(errs, fmt.Errorf("rxInfo[%d]: %w", i, err))
			continue
		}
		out = append(out, rx)
	}
	return out, errors.Join(errs...)
}

// Transmission decodes txInfo. It returns nil when the event has none.
func (e *Event) Transmission() (*TxInfo, error) {
	if isNull(e.txInfo) {
		return nil, nil
	}
	var tx TxInfo
	if err := json.Unmarshal(e.txInfo, &tx); err != nil {
		return nil, fmt.Errorf("txInfo: %w", err)
	}
	return &tx, nil
}

// SpreadingFactor returns the LoRa spreading factor, or 0 when the uplink
// carries no usable LoRa modulation info.
func (e *Event) SpreadingFactor() uint32 {
	tx, err := e.Transmission()
	if err != nil || tx == nil || tx.Modulation.LoRa == nil {
		return 0
	}
	return tx.Modulation.LoRa.SpreadingFactor
}

// LogSignal writes the radio metadata of the uplink at debug level.
// Undecodable metadata is logged and otherwise ignored.
func (e *Event) LogSignal(logger *slog.Logger) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	var freq, sf uint32
	tx, err := e.Transmission()
	if err != nil {
		logger.Debug("ignoring undecodable uplink metadata", "error", err)
	} else if tx != nil {
		freq = tx.Frequency
		if tx.Modulation.LoRa != nil {
			sf = tx.Modulation.LoRa.SpreadingFactor
		}
	}
	logger.Debug("uplink received",
		"dev_eui", e.DeviceInfo.DevEUI,
		"device_name", e.DeviceInfo.DeviceName,
		"frequency", freq,
		"spreading_factor", sf,
	)

	rxs, err := e.Receptions()
	if err != nil {
		logger.Debug("ignoring undecodable uplink metadata", "error", err)
	}
	for _, rx := range rxs {
		logger.Debug("uplink signal",
			"gateway_id", rx.GatewayID,
			"rssi", rx.RSSI,
			"snr", rx.SNR,
		)
	}
}
