// ABOUTME: Typed registry payloads for devices, connections, keys and hardware
// ABOUTME: Create, update and lookup helpers over the generic request methods

package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Hardware is a sensor hardware record.
type Hardware struct {
	ID           int      `json:"id,omitempty"`
	Hardware     string   `json:"hardware"`
	HwModel      string   `json:"hw_model"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Device is a LoRaWAN device record. HardwareID links the sensor hardware and
// is only sent on create.
type Device struct {
	DevEUI       string  `json:"deveui,omitempty"`
	Name         string  `json:"name"`
	BatteryLevel float64 `json:"battery_level"`
	HardwareID   int     `json:"hardware,omitempty"`
}

// Connection is a LoRaWAN connection between a node and a device.
type Connection struct {
	Node                   string  `json:"node,omitempty"`
	DevEUI                 string  `json:"lorawan_device,omitempty"`
	ConnectionName         string  `json:"connection_name"`
	CreatedAt              string  `json:"created_at,omitempty"`
	LastSeenAt             string  `json:"last_seen_at,omitempty"`
	Margin                 float64 `json:"margin"`
	ExpectedUplinkInterval uint32  `json:"expected_uplink_interval_sec"`
	ConnectionType         string  `json:"connection_type"`
}

// Keys are the LoRaWAN keys of a connection. Connection holds the handle
// returned by CreateConnection.
type Keys struct {
	Connection    string `json:"lorawan_connection,omitempty"`
	AppKey        string `json:"app_key,omitempty"`
	NetworkKey    string `json:"network_Key,omitempty"`
	AppSessionKey string `json:"app_session_key,omitempty"`
	DevAddress    string `json:"dev_address,omitempty"`
}

// ConnectionHandle is the registry's identifier for a connection.
func ConnectionHandle(node, name, devEUI string) string {
	return fmt.Sprintf("%s-%s-%s", node, name, devEUI)
}

// DeviceExists reports whether the registry knows devEUI.
func (c *Client) DeviceExists(ctx context.Context, devEUI string) (bool, error) {
	return c.Exists(ctx, endpoint(DevicesRouter, devEUI))
}

// ConnectionExists reports whether this node has a connection to devEUI.
func (c *Client) ConnectionExists(ctx context.Context, devEUI string) (bool, error) {
	return c.Exists(ctx, endpoint(ConnectionsRouter, c.node, devEUI))
}

// FindHardware looks up hardware by model. A missing model yields nil.
func (c *Client) FindHardware(ctx context.Context, hwModel string) (*Hardware, error) {
	resp, err := c.Do(ctx, http.MethodGet, endpoint(HardwareRouter, hwModel), nil)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, nil
	}
	if !resp.OK() {
		c.logger.Error("hardware lookup failed", "hw_model", hwModel, "status", resp.Status)
		return nil, &StatusError{
			Method: http.MethodGet,
			Path:   endpoint(HardwareRouter, hwModel),
			Status: resp.Status,
			Body:   truncate(string(resp.Body), 512),
		}
	}

	var hw Hardware
	if err := resp.Decode(&hw); err != nil {
		return nil, err
	}
	return &hw, nil
}

// CreateHardware creates a hardware record and returns it as stored.
func (c *Client) CreateHardware(ctx context.Context, hw Hardware) (*Hardware, error) {
	resp, err := c.Create(ctx, HardwareRouter, hw)
	if err != nil {
		return nil, err
	}
	var created Hardware
	if err := resp.Decode(&created); err != nil {
		return nil, err
	}
	c.logger.Info("hardware created", "hw_model", created.HwModel, "id", created.ID)
	return &created, nil
}

// CreateDevice creates a device record.
func (c *Client) CreateDevice(ctx context.Context, d Device) error {
	if d.DevEUI == "" {
		return errors.New("registry: device deveui is empty")
	}
	if _, err := c.Create(ctx, DevicesRouter, d); err != nil {
		return err
	}
	c.logger.Info("device created", "dev_eui", d.DevEUI)
	return nil
}

// UpdateDevice patches the device with devEUI.
func (c *Client) UpdateDevice(ctx context.Context, devEUI string, d Device) error {
	if _, err := c.Update(ctx, endpoint(DevicesRouter, devEUI), d); err != nil {
		return err
	}
	c.logger.Info("device updated", "dev_eui", devEUI)
	return nil
}

// CreateConnection creates a connection for this node and returns its handle.
func (c *Client) CreateConnection(ctx context.Context, conn Connection) (string, error) {
	if conn.DevEUI == "" {
		return "", errors.New("registry: connection device is empty")
	}
	conn.Node = c.node
	if _, err := c.Create(ctx, ConnectionsRouter, conn); err != nil {
		return "", err
	}
	handle := ConnectionHandle(c.node, conn.ConnectionName, conn.DevEUI)
	c.logger.Info("connection created", "dev_eui", conn.DevEUI, "handle", handle)
	return handle, nil
}

// UpdateConnection patches this node's connection to devEUI.
func (c *Client) UpdateConnection(ctx context.Context, devEUI string, conn Connection) error {
	conn.Node = ""
	conn.DevEUI = ""
	if _, err := c.Update(ctx, endpoint(ConnectionsRouter, c.node, devEUI), conn); err != nil {
		return err
	}
	c.logger.Info("connection updated", "dev_eui", devEUI)
	return nil
}

// CreateKeys stores keys for the connection named by k.Connection.
func (c *Client) CreateKeys(ctx context.Context, k Keys) error {
	if k.Connection == "" {
		return errors.New("registry: keys have no connection")
	}
	if _, err := c.Create(ctx, KeysRouter, k); err != nil {
		return err
	}
	c.logger.Info("keys created", "connection", k.Connection)
	return nil
}

// UpdateKeys patches the keys of this node's connection to devEUI.
func (c *Client) UpdateKeys(ctx context.Context, devEUI string, k Keys) error {
	k.Connection = ""
	if _, err := c.Update(ctx, endpoint(KeysRouter, c.node, devEUI), k); err != nil {
		return err
	}
	c.logger.Info("keys updated", "dev_eui", devEUI)
	return nil
}
