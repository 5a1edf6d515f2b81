// ABOUTME: Reconciliation states, branches and per-entity actions
// ABOUTME: An Outcome summarizes what one uplink did to the registry and manifest

package tracker

import (
	"errors"

	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/chirpstack"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/registry"
)

// State is the progress of one uplink through the tracker.
type State int

const (
	Received State = iota
	Identified
	Fetched
	Reconciled
	Persisted
	Aborted
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Identified:
		return "identified"
	case Fetched:
		return "fetched"
	case Reconciled:
		return "reconciled"
	case Persisted:
		return "persisted"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Branch is the reconciliation path taken for a device.
type Branch string

const (
	BranchNone    Branch = ""
	BranchUpdate  Branch = "update"
	BranchConnect Branch = "connect"
	BranchCreate  Branch = "create"
)

// Registry entities.
const (
	EntityHardware   = "hardware"
	EntityDevice     = "device"
	EntityConnection = "connection"
	EntityKeys       = "keys"
)

// Action verbs.
const (
	VerbCreate = "create"
	VerbUpdate = "update"
	VerbReuse  = "reuse"
	VerbLookup = "lookup"
	VerbSkip   = "skip"
)

// Action is one registry operation attempted for an uplink.
type Action struct {
	Entity string
	Verb   string
	Err    error
}

func (a Action) String() string {
	s := a.Entity + ":" + a.Verb
	if a.Err != nil {
		s += ":failed"
	}
	return s
}

// Outcome is the result of handling one uplink.
type Outcome struct {
	DevEUI          string
	DeduplicationID string
	State           State
	Branch          Branch
	Actions         []Action
	// Duplicate is set when the uplink was dropped as a redelivery.
	Duplicate bool
	Err       error
}

func (o *Outcome) add(entity, verb string, err error) {
	o.Actions = append(o.Actions, Action{Entity: entity, Verb: verb, Err: err})
}

// ActionStrings renders the actions for logs and the journal.
func (o *Outcome) ActionStrings() []string {
	out := make([]string, 0, len(o.Actions))
	for _, a := range o.Actions {
		out = append(out, a.String())
	}
	return out
}

// IsFatal reports whether err means the process cannot continue: the network
// server or the registry is unreachable, or credentials were rejected.
func IsFatal(err error) bool {
	return errors.Is(err, chirpstack.ErrUnrecoverable) || errors.Is(err, registry.ErrUnavailable)
}
