// Package uplink decodes ChirpStack v4 "up" integration events as delivered
// over MQTT.
//
// Only the parts the tracker relies on are modelled: the deviceInfo block that
// identifies the device, and the rxInfo/txInfo radio metadata that is logged
// for diagnostics. Everything else in the event is ignored.
//
//	n, err := uplink.Parse(payload)
//	if err != nil {
//	    // malformed event, drop it
//	}
//	slog.Debug("uplink", "dev_eui", n.DeviceInfo.DevEUI)
package uplink
