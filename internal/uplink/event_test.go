// ABOUTME: Tests for uplink event parsing
// ABOUTME: Covers the ChirpStack sample event, malformed payloads and devEui validation

package uplink

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEvent = `{
	"deduplicationId": "3ac7e3c4-4401-4b8d-9386-a5c902f9202d",
	"time": "2022-07-18T09:34:15.775023242+00:00",
	"deviceInfo": {
		"tenantId": "52f14cd4-c6f1-4fbd-8f87-4025e1d49242",
		"tenantName": "ChirpStack",
		"applicationId": "17c82e96-be03-4f38-aef3-f83d48582d97",
		"applicationName": "Test application",
		"deviceProfileId": "14855bf7-d10d-4aee-b618-ebfcb64dc7ad",
		"deviceProfileName": "Test device-profile",
		"deviceName": "Test device",
		"devEui": "0101010101010101",
		"tags": {"key": "value"}
	},
	"devAddr": "00189440",
	"dr": 1,
	"fPort": 1,
	"data": "qg==",
	"rxInfo": [{
		"gatewayId": "0016c001f153a14c",
		"uplinkId": 4217106255,
		"rssi": -36,
		"snr": 10.5,
		"context": "E3OWOQ==",
		"metadata": {"region_name": "eu868"}
	}],
	"txInfo": {
		"frequency": 867100000,
		"modulation": {"lora": {"bandwidth": 125000, "spreadingFactor": 11, "codeRate": "CR_4_5"}}
	}
}`

func TestParse_SampleEvent(t *testing.T) {
	ev, err := Parse([]byte(sampleEvent))
	require.NoError(t, err)

	assert.Equal(t, "0101010101010101", ev.DeviceInfo.DevEUI)
	assert.Equal(t, "14855bf7-d10d-4aee-b618-ebfcb64dc7ad", ev.DeviceInfo.DeviceProfileID)
	assert.Equal(t, "Test device", ev.DeviceInfo.DeviceName)
	assert.Equal(t, uint32(11), ev.SpreadingFactor())
	assert.Equal(t, "3ac7e3c4-4401-4b8d-9386-a5c902f9202d", ev.DeduplicationID)
	assert.Empty(t, ev.InvalidDeduplicationID)

	rxs, err := ev.Receptions()
	require.NoError(t, err)
	require.Len(t, rxs, 1)
	assert.InDelta(t, -36, rxs[0].RSSI, 0.001)
	assert.InDelta(t, 10.5, rxs[0].SNR, 0.001)

	tx, err := ev.Transmission()
	require.NoError(t, err)
	assert.Equal(t, uint32(867100000), tx.Frequency)
}

func TestParse_LowercasesDevEUI(t *testing.T) {
	ev, err := Parse([]byte(`{"deviceInfo":{"devEui":"7D1F5420E81235C1","deviceProfileId":"p"}}`))
	require.NoError(t, err)
	assert.Equal(t, "7d1f5420e81235c1", ev.DeviceInfo.DevEUI)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"not json", `{"deviceInfo":`, ErrMalformed},
		{"no device info", `{"devAddr":"00189440"}`, ErrMissingDeviceInfo},
		{"null device info", `{"deviceInfo":null}`, ErrMissingDeviceInfo},
		{"empty dev eui", `{"deviceInfo":{"devEui":"","deviceProfileId":"p"}}`, ErrInvalidDevEUI},
		{"short dev eui", `{"deviceInfo":{"devEui":"0101","deviceProfileId":"p"}}`, ErrInvalidDevEUI},
		{"non hex dev eui", `{"deviceInfo":{"devEui":"zz01010101010101","deviceProfileId":"p"}}`, ErrInvalidDevEUI},
		{"no profile", `{"deviceInfo":{"devEui":"0101010101010101"}}`, ErrMissingProfile},
		{"bad device info", `{"deviceInfo":{"devEui":42,"deviceProfileId":"p"}}`, ErrMalformed},
		{"device info not an object", `{"deviceInfo":"0101010101010101"}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse([]byte(tt.payload))
			assert.Nil(t, ev)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse_OptionalFieldsNeverFail(t *testing.T) {
	const device = `"deviceInfo":{"devEui":"0101010101010101","deviceProfileId":"p"}`

	tests := []struct {
		name  string
		extra string
	}{
		{"fractional rssi", `"rxInfo":[{"gatewayId":"0016c001f153a14c","rssi":-36.5,"snr":7}]`},
		{"rssi as string", `"rxInfo":[{"gatewayId":"0016c001f153a14c","rssi":"-36"}]`},
		{"rxInfo not a list", `"rxInfo":{"gatewayId":"0016c001f153a14c"}`},
		{"spreading factor as string", `"txInfo":{"modulation":{"lora":{"spreadingFactor":"SF7"}}}`},
		{"txInfo not an object", `"txInfo":[1,2]`},
		{"unexpected fPort", `"fPort":"one"`},
		{"unexpected time", `"time":1704794400`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse([]byte(`{` + device + `,` + tt.extra + `}`))
			require.NoError(t, err)
			assert.Equal(t, "0101010101010101", ev.DeviceInfo.DevEUI)

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			assert.NotPanics(t, func() { ev.LogSignal(logger) })
			assert.Contains(t, buf.String(), "uplink received")
		})
	}
}

func TestParse_UndecodableMetadataIsReported(t *testing.T) {
	ev, err := Parse([]byte(`{
		"deviceInfo":{"devEui":"0101010101010101","deviceProfileId":"p"},
		"rxInfo":[{"gatewayId":"aa","rssi":"loud"},{"gatewayId":"bb","rssi":-90.5}],
		"txInfo":{"modulation":{"lora":{"spreadingFactor":"SF7"}}}
	}`))
	require.NoError(t, err)

	rxs, err := ev.Receptions()
	assert.Error(t, err)
	require.Len(t, rxs, 1, "decodable gateways are kept")
	assert.Equal(t, "bb", rxs[0].GatewayID)
	assert.InDelta(t, -90.5, rxs[0].RSSI, 0.001)

	_, err = ev.Transmission()
	assert.Error(t, err)
	assert.Equal(t, uint32(0), ev.SpreadingFactor())

	var buf bytes.Buffer
	ev.LogSignal(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	assert.Contains(t, buf.String(), "ignoring undecodable uplink metadata")
	assert.Contains(t, buf.String(), "gateway_id=bb")
}

func TestParse_DeduplicationID(t *testing.T) {
	tests := []struct {
		name        string
		field       string
		wantID      string
		wantInvalid string
	}{
		{"uuid", `"deduplicationId":"3ac7e3c4-4401-4b8d-9386-a5c902f9202d",`, "3ac7e3c4-4401-4b8d-9386-a5c902f9202d", ""},
		{"absent", ``, "", ""},
		{"null", `"deduplicationId":null,`, "", ""},
		{"empty", `"deduplicationId":"",`, "", ""},
		{"not a uuid", `"deduplicationId":"abc-1",`, "", "abc-1"},
		{"not a string", `"deduplicationId":17,`, "", "17"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse([]byte(`{` + tt.field + `"deviceInfo":{"devEui":"0101010101010101","deviceProfileId":"p"}}`))
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, ev.DeduplicationID)
			assert.Equal(t, tt.wantInvalid, ev.InvalidDeduplicationID)
		})
	}
}

func TestSpreadingFactor_NoTxInfo(t *testing.T) {
	ev := &Event{DeviceInfo: &DeviceInfo{DevEUI: "0101010101010101"}}
	assert.Equal(t, uint32(0), ev.SpreadingFactor())
}

func TestLogSignal(t *testing.T) {
	ev, err := Parse([]byte(sampleEvent))
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ev.LogSignal(logger)

	out := buf.String()
	assert.Contains(t, out, "gateway_id=0016c001f153a14c")
	assert.Contains(t, out, "rssi=-36")
	assert.Contains(t, out, "spreading_factor=11")
}
