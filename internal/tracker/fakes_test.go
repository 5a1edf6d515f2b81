// ABOUTME: In-memory network server, registry and journal fakes for engine tests
// ABOUTME: The registry fake records every write in call order

package tracker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chirpstack/chirpstack/api/go/v4/common"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/chirpstack"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/journal"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/registry"
)

type fakeNetworkServer struct {
	device     *chirpstack.Device
	profile    *chirpstack.Profile
	activation *chirpstack.Activation
	nwkKey     string
	appKey     string

	getErr   error
	logins   int
	keyCalls int
}

func (f *fakeNetworkServer) Authenticate(context.Context) (chirpstack.Session, error) {
	f.logins++
	return chirpstack.NewSession("token"), nil
}

func (f *fakeNetworkServer) GetDevice(_ context.Context, _ *chirpstack.Session, devEUI string) (*chirpstack.Device, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	d := *f.device
	d.DevEUI = devEUI
	return &d, nil
}

func (f *fakeNetworkServer) GetDeviceProfile(context.Context, *chirpstack.Session, string) (*chirpstack.Profile, error) {
	p := *f.profile
	return &p, nil
}

func (f *fakeNetworkServer) GetDeviceActivation(context.Context, *chirpstack.Session, string) (*chirpstack.Activation, error) {
	if f.activation == nil {
		return nil, nil
	}
	a := *f.activation
	return &a, nil
}

func (f *fakeNetworkServer) GetAppKey(_ context.Context, _ *chirpstack.Session, _ string, mac common.MacVersion) (string, bool, error) {
	f.keyCalls++
	if mac < common.MacVersion_LORAWAN_1_1_0 {
		return f.nwkKey, true, nil
	}
	return f.appKey, true, nil
}

type fakeRegistry struct {
	connections map[string]bool
	devices     map[string]bool
	hardware    map[string]*registry.Hardware
	failOn      map[string]error

	calls         []string
	deviceWrites  []registry.Device
	connWrites    []registry.Connection
	keysWrites    []registry.Keys
	hardwareWrite []registry.Hardware
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		connections: map[string]bool{},
		devices:     map[string]bool{},
		hardware:    map[string]*registry.Hardware{},
		failOn:      map[string]error{},
	}
}

func (f *fakeRegistry) call(op string) error {
	f.calls = append(f.calls, op)
	return f.failOn[op]
}

func (f *fakeRegistry) Node() string { return "W030" }

func (f *fakeRegistry) ConnectionExists(_ context.Context, devEUI string) (bool, error) {
	if err := f.failOn["connection:exists"]; err != nil {
		return false, err
	}
	return f.connections[devEUI], nil
}

func (f *fakeRegistry) DeviceExists(_ context.Context, devEUI string) (bool, error) {
	return f.devices[devEUI], nil
}

func (f *fakeRegistry) FindHardware(_ context.Context, hwModel string) (*registry.Hardware, error) {
	if err := f.failOn["hardware:find"]; err != nil {
		return nil, err
	}
	return f.hardware[hwModel], nil
}

func (f *fakeRegistry) CreateHardware(_ context.Context, hw registry.Hardware) (*registry.Hardware, error) {
	if err := f.call("hardware:create"); err != nil {
		return nil, err
	}
	f.hardwareWrite = append(f.hardwareWrite, hw)
	hw.ID = 42
	f.hardware[hw.HwModel] = &hw
	return &hw, nil
}

func (f *fakeRegistry) CreateDevice(_ context.Context, d registry.Device) error {
	if err := f.call("device:create"); err != nil {
		return err
	}
	f.deviceWrites = append(f.deviceWrites, d)
	f.devices[d.DevEUI] = true
	return nil
}

func (f *fakeRegistry) UpdateDevice(_ context.Context, _ string, d registry.Device) error {
	if err := f.call("device:update"); err != nil {
		return err
	}
	f.deviceWrites = append(f.deviceWrites, d)
	return nil
}

func (f *fakeRegistry) CreateConnection(_ context.Context, c registry.Connection) (string, error) {
	if err := f.call("connection:create"); err != nil {
		return "", err
	}
	f.connWrites = append(f.connWrites, c)
	f.connections[c.DevEUI] = true
	return registry.ConnectionHandle(f.Node(), c.ConnectionName, c.DevEUI), nil
}

func (f *fakeRegistry) UpdateConnection(_ context.Context, _ string, c registry.Connection) error {
	if err := f.call("connection:update"); err != nil {
		return err
	}
	f.connWrites = append(f.connWrites, c)
	return nil
}

func (f *fakeRegistry) CreateKeys(_ context.Context, k registry.Keys) error {
	if err := f.call("keys:create"); err != nil {
		return err
	}
	f.keysWrites = append(f.keysWrites, k)
	return nil
}

func (f *fakeRegistry) UpdateKeys(_ context.Context, _ string, k registry.Keys) error {
	if err := f.call("keys:update"); err != nil {
		return err
	}
	f.keysWrites = append(f.keysWrites, k)
	return nil
}

type memJournal struct {
	entries []journal.Entry
}

func (m *memJournal) Append(_ context.Context, e *journal.Entry) error {
	m.entries = append(m.entries, *e)
	return nil
}

func statusError(method string, status int) error {
	return &registry.StatusError{Method: method, Path: "x/", Status: status, Body: http.StatusText(status)}
}

func unavailable() error {
	return fmt.Errorf("%w: PATCH lorawandevices/: connection refused", registry.ErrUnavailable)
}
