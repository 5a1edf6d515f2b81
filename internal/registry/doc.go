// Package registry is a client for the node registry REST API that stores
// LoRaWAN devices, connections, keys and sensor hardware.
//
// Requests authenticate with a per-node token sent as
// "Authorization: node_auth <token>". Connections and keys are scoped to the
// node, so their paths carry the node VSN:
//
//	lorawanconnections/W030/7d1f5420e81235c1/
//	lorawankeys/W030/7d1f5420e81235c1/
//	lorawandevices/7d1f5420e81235c1/
//	sensorhardwares/SFM1x/
//
// Every HTTP status yields a Response; non-2xx results from the typed helpers
// are reported as *StatusError. A failure to reach the registry at all wraps
// ErrUnavailable.
package registry
