// ABOUTME: Reconciliation engine driving one uplink from parse to manifest upsert
// ABOUTME: Branches between update, connect and create against the node registry

package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chirpstack/chirpstack/api/go/v4/common"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/chirpstack"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/journal"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/manifest"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/registry"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/uplink"
)

// ErrNotConnected is returned when no registry connection exists for the
// device after reconciliation, so the manifest is left untouched.
var ErrNotConnected = errors.New("device has no registry connection")

// NetworkServer is the read side of ChirpStack used by the engine.
type NetworkServer interface {
	Authenticate(ctx context.Context) (chirpstack.Session, error)
	GetDevice(ctx context.Context, sess *chirpstack.Session, devEUI string) (*chirpstack.Device, error)
	GetDeviceProfile(ctx context.Context, sess *chirpstack.Session, id string) (*chirpstack.Profile, error)
	GetDeviceActivation(ctx context.Context, sess *chirpstack.Session, devEUI string) (*chirpstack.Activation, error)
	GetAppKey(ctx context.Context, sess *chirpstack.Session, devEUI string, mac common.MacVersion) (string, bool, error)
}

// Registry is the node registry.
type Registry interface {
	Node() string
	ConnectionExists(ctx context.Context, devEUI string) (bool, error)
	DeviceExists(ctx context.Context, devEUI string) (bool, error)
	FindHardware(ctx context.Context, hwModel string) (*registry.Hardware, error)
	CreateHardware(ctx context.Context, hw registry.Hardware) (*registry.Hardware, error)
	CreateDevice(ctx context.Context, d registry.Device) error
	UpdateDevice(ctx context.Context, devEUI string, d registry.Device) error
	CreateConnection(ctx context.Context, c registry.Connection) (string, error)
	UpdateConnection(ctx context.Context, devEUI string, c registry.Connection) error
	CreateKeys(ctx context.Context, k registry.Keys) error
	UpdateKeys(ctx context.Context, devEUI string, k registry.Keys) error
}

// Manifest is the node-local connection cache.
type Manifest interface {
	Load() (manifest.Document, error)
	Upsert(c manifest.Connection) error
}

// Journal records outcomes.
type Journal interface {
	Append(ctx context.Context, e *journal.Entry) error
}

// Dedupe remembers reconciled deduplication ids.
type Dedupe interface {
	Seen(id string) bool
	Mark(id string)
}

// Options are the optional collaborators of an Engine.
type Options struct {
	Journal Journal
	Dedupe  Dedupe
	Logger  *slog.Logger
}

// Engine reconciles uplinks one at a time. It is not safe for concurrent use.
type Engine struct {
	ns       NetworkServer
	registry Registry
	manifest Manifest
	journal  Journal
	dedupe   Dedupe
	logger   *slog.Logger

	session chirpstack.Session
}

// New creates an engine.
func New(ns NetworkServer, reg Registry, m Manifest, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ns:       ns,
		registry: reg,
		manifest: m,
		journal:  opts.Journal,
		dedupe:   opts.Dedupe,
		logger:   logger.With("component", "tracker"),
	}
}

// Start authenticates against the network server.
func (e *Engine) Start(ctx context.Context) error {
	sess, err := e.ns.Authenticate(ctx)
	if err != nil {
		return err
	}
	e.session = sess
	return nil
}

// snapshot is the network-server view of the device being reconciled.
type snapshot struct {
	devEUI     string
	name       string
	device     *chirpstack.Device
	profile    *chirpstack.Profile
	activation *chirpstack.Activation

	// hardware is set when the create branch resolved it in the registry.
	hardware *registry.Hardware
}

// Handle reconciles one uplink payload. The returned error is nil when the
// uplink was reconciled or deliberately dropped; use IsFatal to decide
// whether the process must stop.
func (e *Engine) Handle(ctx context.Context, payload []byte) (*Outcome, error) {
	out := &Outcome{State: Received}

	ev, err := uplink.Parse(payload)
	if err != nil {
		e.logger.Warn("dropping malformed uplink", "error", err)
		out.State = Aborted
		out.Err = err
		return out, err
	}
	out.DevEUI = ev.DeviceInfo.DevEUI
	out.DeduplicationID = ev.DeduplicationID
	out.State = Identified

	logger := e.logger.With("dev_eui", out.DevEUI)
	if ev.InvalidDeduplicationID != "" {
		logger.Warn("ignoring invalid deduplicationId, redelivery check skipped",
			"deduplication_id", ev.InvalidDeduplicationID)
	}
	if e.dedupe != nil && e.dedupe.Seen(ev.DeduplicationID) {
		logger.Info("dropping redelivered uplink", "deduplication_id", ev.DeduplicationID)
		out.State = Aborted
		out.Duplicate = true
		return out, nil
	}
	ev.LogSignal(logger)

	err = e.reconcile(ctx, ev, out, logger)
	if err != nil {
		out.State = Aborted
		out.Err = err
		logger.Error("reconciliation aborted",
			"branch", out.Branch,
			"actions", out.ActionStrings(),
			"fatal", IsFatal(err),
			"error", err,
		)
	} else {
		out.State = Persisted
		if e.dedupe != nil {
			e.dedupe.Mark(ev.DeduplicationID)
		}
		logger.Info("device reconciled", "branch", out.Branch, "actions", out.ActionStrings())
	}

	e.record(ctx, out, logger)
	return out, err
}

func (e *Engine) reconcile(ctx context.Context, ev *uplink.Event, out *Outcome, logger *slog.Logger) error {
	if e.session.Token() == "" {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}

	snap, err := e.fetch(ctx, ev)
	if err != nil {
		return err
	}
	out.State = Fetched

	doc, err := e.manifest.Load()
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}
	inManifest := doc.FindDevice(snap.devEUI)

	connected, err := e.reconcileRegistry(ctx, snap, out, logger)
	if err != nil {
		return err
	}
	out.State = Reconciled

	if !connected {
		return ErrNotConnected
	}
	if err := e.manifest.Upsert(e.candidate(snap, !inManifest)); err != nil {
		return fmt.Errorf("updating manifest: %w", err)
	}
	return nil
}

// fetch reads device, profile and activation. Any failure aborts the uplink.
func (e *Engine) fetch(ctx context.Context, ev *uplink.Event) (*snapshot, error) {
	eui := ev.DeviceInfo.DevEUI

	dev, err := e.ns.GetDevice(ctx, &e.session, eui)
	if err != nil {
		return nil, fmt.Errorf("fetching device: %w", err)
	}
	profile, err := e.ns.GetDeviceProfile(ctx, &e.session, ev.DeviceInfo.DeviceProfileID)
	if err != nil {
		return nil, fmt.Errorf("fetching device profile: %w", err)
	}
	activation, err := e.ns.GetDeviceActivation(ctx, &e.session, eui)
	if err != nil {
		return nil, fmt.Errorf("fetching device activation: %w", err)
	}

	return &snapshot{
		devEUI:     eui,
		name:       NormalizeName(dev.Name),
		device:     dev,
		profile:    profile,
		activation: activation,
	}, nil
}

// reconcileRegistry runs the branch for the device and reports whether a
// registry connection exists afterwards. Only fatal errors are returned.
func (e *Engine) reconcileRegistry(ctx context.Context, snap *snapshot, out *Outcome, logger *slog.Logger) (bool, error) {
	connExists, err := e.registry.ConnectionExists(ctx, snap.devEUI)
	if err != nil {
		return false, err
	}
	if connExists {
		out.Branch = BranchUpdate
		return true, e.updateAll(ctx, snap, out, logger)
	}

	devExists, err := e.registry.DeviceExists(ctx, snap.devEUI)
	if err != nil {
		return false, err
	}
	if devExists {
		out.Branch = BranchConnect
		err := e.registry.UpdateDevice(ctx, snap.devEUI, e.devicePayload(snap))
		if err := e.step(out, EntityDevice, VerbUpdate, err, logger); err != nil {
			return false, err
		}
		return e.connect(ctx, snap, out, logger)
	}

	out.Branch = BranchCreate
	hw, err := e.resolveHardware(ctx, snap, out, logger)
	if err != nil {
		return false, err
	}
	if hw == nil {
		out.add(EntityDevice, VerbSkip, nil)
		out.add(EntityConnection, VerbSkip, nil)
		out.add(EntityKeys, VerbSkip, nil)
		return false, nil
	}
	snap.hardware = hw

	dev := e.devicePayload(snap)
	dev.HardwareID = hw.ID
	createErr := e.registry.CreateDevice(ctx, dev)
	if err := e.step(out, EntityDevice, VerbCreate, createErr, logger); err != nil {
		return false, err
	}
	if createErr != nil {
		out.add(EntityConnection, VerbSkip, nil)
		out.add(EntityKeys, VerbSkip, nil)
		return false, nil
	}
	return e.connect(ctx, snap, out, logger)
}

// updateAll updates device, connection and keys. A failed update does not
// prevent the others.
func (e *Engine) updateAll(ctx context.Context, snap *snapshot, out *Outcome, logger *slog.Logger) error {
	err := e.registry.UpdateDevice(ctx, snap.devEUI, e.devicePayload(snap))
	if err := e.step(out, EntityDevice, VerbUpdate, err, logger); err != nil {
		return err
	}

	conn := e.connectionPayload(snap)
	conn.CreatedAt = ""
	err = e.registry.UpdateConnection(ctx, snap.devEUI, conn)
	if err := e.step(out, EntityConnection, VerbUpdate, err, logger); err != nil {
		return err
	}

	keys, ok, err := e.keysPayload(ctx, snap, logger)
	if err != nil {
		return err
	}
	if !ok {
		out.add(EntityKeys, VerbSkip, nil)
		return nil
	}
	err = e.registry.UpdateKeys(ctx, snap.devEUI, keys)
	return e.step(out, EntityKeys, VerbUpdate, err, logger)
}

// connect creates the connection and, when it succeeded, its keys.
func (e *Engine) connect(ctx context.Context, snap *snapshot, out *Outcome, logger *slog.Logger) (bool, error) {
	handle, err := e.registry.CreateConnection(ctx, e.connectionPayload(snap))
	if err := e.step(out, EntityConnection, VerbCreate, err, logger); err != nil {
		return false, err
	}
	if handle == "" {
		logger.Error("skipping keys, connection was not created")
		out.add(EntityKeys, VerbSkip, nil)
		return false, nil
	}

	keys, ok, err := e.keysPayload(ctx, snap, logger)
	if err != nil {
		return true, err
	}
	if !ok {
		out.add(EntityKeys, VerbSkip, nil)
		return true, nil
	}
	keys.Connection = handle
	err = e.registry.CreateKeys(ctx, keys)
	return true, e.step(out, EntityKeys, VerbCreate, err, logger)
}

// resolveHardware finds the hardware for the profile's model or creates it.
// A nil result without error means it could not be resolved.
func (e *Engine) resolveHardware(ctx context.Context, snap *snapshot, out *Outcome, logger *slog.Logger) (*registry.Hardware, error) {
	model := CleanHwModel(snap.profile.Name)
	if model == "" {
		logger.Error("device profile has no usable hardware model", "profile", snap.profile.ID)
		out.add(EntityHardware, VerbCreate, errors.New("empty hardware model"))
		return nil, nil
	}

	hw, err := e.registry.FindHardware(ctx, model)
	if err != nil {
		out.add(EntityHardware, VerbLookup, err)
		if IsFatal(err) {
			return nil, err
		}
		// Creating a second hardware record for the same model is worse than
		// retrying on the next uplink.
		logger.Error("hardware lookup failed, device not created",
			append([]any{"hw_model", model, "error", err}, statusAttrs(err)...)...)
		return nil, nil
	}
	if hw != nil {
		out.add(EntityHardware, VerbReuse, nil)
		return hw, nil
	}

	hw, err = e.registry.CreateHardware(ctx, registry.Hardware{
		Hardware:     snap.profile.Name,
		HwModel:      model,
		Description:  snap.profile.Description,
		Capabilities: []string{"lorawan"},
	})
	if err != nil {
		out.add(EntityHardware, VerbCreate, err)
		if IsFatal(err) {
			return nil, err
		}
		logger.Error("hardware create failed, device not created",
			append([]any{"hw_model", model, "error", err}, statusAttrs(err)...)...)
		return nil, nil
	}
	out.add(EntityHardware, VerbCreate, nil)
	return hw, nil
}

// statusAttrs returns the registry status of err as log attributes.
func statusAttrs(err error) []any {
	var se *registry.StatusError
	if errors.As(err, &se) {
		return []any{"status", se.Status}
	}
	return nil
}

// step records an action. Fatal errors are returned so the branch stops;
// other errors are logged and the branch continues.
func (e *Engine) step(out *Outcome, entity, verb string, err error, logger *slog.Logger) error {
	out.add(entity, verb, err)
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		return err
	}
	logger.Error("registry "+verb+" failed", "entity", entity, "error", err)
	return nil
}

func (e *Engine) devicePayload(snap *snapshot) registry.Device {
	return registry.Device{
		DevEUI:       snap.devEUI,
		Name:         snap.name,
		BatteryLevel: float64(snap.device.BatteryLevel),
	}
}

func (e *Engine) connectionPayload(snap *snapshot) registry.Connection {
	return registry.Connection{
		DevEUI:                 snap.devEUI,
		ConnectionName:         snap.name,
		CreatedAt:              FormatTimestamp(snap.device.CreatedAt),
		LastSeenAt:             FormatTimestamp(snap.device.LastSeenAt),
		Margin:                 float64(snap.device.Margin),
		ExpectedUplinkInterval: snap.profile.UplinkInterval,
		ConnectionType:         snap.profile.ActivationMode(),
	}
}

// keysPayload builds the keys record. ok is false when the device has not
// been activated yet. The root key is only read for OTAA devices.
func (e *Engine) keysPayload(ctx context.Context, snap *snapshot, logger *slog.Logger) (registry.Keys, bool, error) {
	var keys registry.Keys
	if snap.activation == nil {
		logger.Warn("device not activated, skipping keys")
		return keys, false, nil
	}
	keys.DevAddress = snap.activation.DevAddr
	keys.AppSessionKey = snap.activation.AppSKey
	keys.NetworkKey = snap.activation.NwkSEncKey

	if snap.profile.SupportsOTAA {
		key, ok, err := e.ns.GetAppKey(ctx, &e.session, snap.devEUI, snap.profile.MacVersion)
		if err != nil {
			return keys, false, err
		}
		if ok {
			keys.AppKey = key
		}
	}
	return keys, true, nil
}

// candidate builds the manifest entry. Hardware is only embedded for devices
// new to the manifest.
func (e *Engine) candidate(snap *snapshot, withHardware bool) manifest.Connection {
	c := manifest.Connection{
		ConnectionName:         snap.name,
		CreatedAt:              FormatTimestamp(snap.device.CreatedAt),
		LastSeenAt:             FormatTimestamp(snap.device.LastSeenAt),
		Margin:                 float64(snap.device.Margin),
		ExpectedUplinkInterval: snap.profile.UplinkInterval,
		ConnectionType:         snap.profile.ActivationMode(),
		Device: manifest.Device{
			DevEUI:       snap.devEUI,
			Name:         snap.name,
			BatteryLevel: float64(snap.device.BatteryLevel),
		},
	}
	if !withHardware {
		return c
	}

	hw := &manifest.Hardware{
		Hardware:     snap.profile.Name,
		HwModel:      CleanHwModel(snap.profile.Name),
		Description:  snap.profile.Description,
		Capabilities: []string{"lorawan"},
	}
	if r := snap.hardware; r != nil {
		hw.Hardware = r.Hardware
		hw.HwModel = r.HwModel
		if r.Description != "" {
			hw.Description = r.Description
		}
		if len(r.Capabilities) > 0 {
			hw.Capabilities = r.Capabilities
		}
	}
	c.Device.Hardware = hw
	return c
}

// record appends the outcome to the journal. Journal failures are logged.
func (e *Engine) record(ctx context.Context, out *Outcome, logger *slog.Logger) {
	if e.journal == nil {
		return
	}
	entry := &journal.Entry{
		DevEUI:          out.DevEUI,
		DeduplicationID: out.DeduplicationID,
		Branch:          string(out.Branch),
		State:           out.State.String(),
		Actions:         out.ActionStrings(),
	}
	if out.Err != nil {
		entry.Error = out.Err.Error()
	}
	if err := e.journal.Append(ctx, entry); err != nil {
		logger.Warn("journal append failed", "error", err)
	}
}
