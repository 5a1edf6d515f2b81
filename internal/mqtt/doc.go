// Package mqtt delivers ChirpStack integration events from an MQTT broker.
//
// Messages are delivered in order, one at a time: the handler for a message
// runs to completion before the next one is dispatched. A handler error stops
// the subscriber, so handlers return only errors the process cannot survive.
package mqtt
