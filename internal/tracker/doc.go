// Package tracker reconciles LoRaWAN uplinks against the network server, the
// node registry and the local manifest.
//
// Each uplink moves through a fixed sequence of states:
//
//	Received -> Identified -> Fetched -> Reconciled -> Persisted
//
// and ends in Aborted when it cannot be parsed, is a redelivery, or a step
// fails. Reconciliation picks one of three branches:
//
//   - update: the node already has a connection to the device. Device,
//     connection and keys are updated independently.
//   - connect: the device is registered but not connected to this node. The
//     device is updated, then a connection and its keys are created.
//   - create: the device is unknown. Its hardware is resolved by model (found
//     or created), then device, connection and keys are created in that order.
//
// Errors for which IsFatal reports true mean the process should exit and be
// restarted; every other failure is logged and corrected by the next uplink
// from the same device.
package tracker
