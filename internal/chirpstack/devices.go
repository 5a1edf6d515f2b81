// ABOUTME: Device, device profile, activation and root key lookups
// ABOUTME: Converts generated protobuf responses into plain result structs

package chirpstack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chirpstack/chirpstack/api/go/v4/api"
	"github.com/chirpstack/chirpstack/api/go/v4/common"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Device is the network-server view of a LoRaWAN device.
type Device struct {
	DevEUI        string
	Name          string
	Description   string
	ApplicationID string
	ProfileID     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastSeenAt    time.Time

	// Status fields are zero until the device has answered a status request.
	Margin        int32
	BatteryLevel  float32
	ExternalPower bool
}

// Profile is the subset of a device profile the tracker uses.
type Profile struct {
	ID             string
	Name           string
	Description    string
	MacVersion     common.MacVersion
	SupportsOTAA   bool
	UplinkInterval uint32
}

// ActivationMode returns "OTAA" or "ABP".
func (p *Profile) ActivationMode() string {
	if p.SupportsOTAA {
		return "OTAA"
	}
	return "ABP"
}

// Activation holds the session keys of an activated device.
type Activation struct {
	DevEUI      string
	DevAddr     string
	AppSKey     string
	NwkSEncKey  string
	SNwkSIntKey string
	FNwkSIntKey string
	FCntUp      uint32
}

// GetDevice fetches a device by DevEUI.
func (c *Client) GetDevice(ctx context.Context, sess *Session, devEUI string) (*Device, error) {
	resp, err := invoke(ctx, c, sess, "DeviceService.Get", func(ctx context.Context) (*api.GetDeviceResponse, error) {
		return c.devices.Get(ctx, &api.GetDeviceRequest{DevEui: devEUI})
	})
	if err != nil {
		return nil, err
	}

	d := resp.GetDevice()
	if d == nil {
		return nil, fmt.Errorf("DeviceService.Get: response for %s has no device", devEUI)
	}
	st := resp.GetDeviceStatus()
	return &Device{
		DevEUI:        d.GetDevEui(),
		Name:          d.GetName(),
		Description:   d.GetDescription(),
		ApplicationID: d.GetApplicationId(),
		ProfileID:     d.GetDeviceProfileId(),
		CreatedAt:     toTime(resp.GetCreatedAt()),
		UpdatedAt:     toTime(resp.GetUpdatedAt()),
		LastSeenAt:    toTime(resp.GetLastSeenAt()),
		Margin:        st.GetMargin(),
		BatteryLevel:  st.GetBatteryLevel(),
		ExternalPower: st.GetExternalPowerSource(),
	}, nil
}

// GetDeviceProfile fetches a device profile by id.
func (c *Client) GetDeviceProfile(ctx context.Context, sess *Session, id string) (*Profile, error) {
	resp, err := invoke(ctx, c, sess, "DeviceProfileService.Get", func(ctx context.Context) (*api.GetDeviceProfileResponse, error) {
		return c.deviceProfiles.Get(ctx, &api.GetDeviceProfileRequest{Id: id})
	})
	if err != nil {
		return nil, err
	}

	p := resp.GetDeviceProfile()
	if p == nil {
		return nil, fmt.Errorf("DeviceProfileService.Get: response for %s has no profile", id)
	}
	return &Profile{
		ID:             p.GetId(),
		Name:           p.GetName(),
		Description:    p.GetDescription(),
		MacVersion:     p.GetMacVersion(),
		SupportsOTAA:   p.GetSupportsOtaa(),
		UplinkInterval: p.GetUplinkInterval(),
	}, nil
}

// GetDeviceActivation fetches the activation of a device. A device that was
// never activated yields nil without error.
func (c *Client) GetDeviceActivation(ctx context.Context, sess *Session, devEUI string) (*Activation, error) {
	resp, err := invoke(ctx, c, sess, "DeviceService.GetActivation", func(ctx context.Context) (*api.GetDeviceActivationResponse, error) {
		return c.devices.GetActivation(ctx, &api.GetDeviceActivationRequest{DevEui: devEUI})
	})
	if err != nil {
		if isNotFound(err) {
			c.logger.Warn("device has no activation", "dev_eui", devEUI)
			return nil, nil
		}
		return nil, err
	}

	a := resp.GetDeviceActivation()
	if a == nil {
		c.logger.Warn("device has no activation", "dev_eui", devEUI)
		return nil, nil
	}
	return &Activation{
		DevEUI:      a.GetDevEui(),
		DevAddr:     a.GetDevAddr(),
		AppSKey:     a.GetAppSKey(),
		NwkSEncKey:  a.GetNwkSEncKey(),
		SNwkSIntKey: a.GetSNwkSIntKey(),
		FNwkSIntKey: a.GetFNwkSIntKey(),
		FCntUp:      a.GetFCntUp(),
	}, nil
}

// GetAppKey returns the root key used for OTAA joins: the network root key
// for LoRaWAN versions before 1.1 and the application root key otherwise.
// ok is false when the keys are missing or could not be read; err is only
// set for unrecoverable failures.
func (c *Client) GetAppKey(ctx context.Context, sess *Session, devEUI string, mac common.MacVersion) (key string, ok bool, err error) {
	resp, err := invoke(ctx, c, sess, "DeviceService.GetKeys", func(ctx context.Context) (*api.GetDeviceKeysResponse, error) {
		return c.devices.GetKeys(ctx, &api.GetDeviceKeysRequest{DevEui: devEUI})
	})
	if err != nil {
		if errors.Is(err, ErrUnrecoverable) {
			return "", false, err
		}
		if isNotFound(err) {
			c.logger.Warn("device has no root keys", "dev_eui", devEUI)
		} else {
			c.logger.Error("reading device keys", "dev_eui", devEUI, "error", err)
		}
		return "", false, nil
	}

	return rootKey(resp.GetDeviceKeys(), mac), true, nil
}

func rootKey(keys *api.DeviceKeys, mac common.MacVersion) string {
	if mac < common.MacVersion_LORAWAN_1_1_0 {
		return keys.GetNwkKey()
	}
	return keys.GetAppKey()
}

// EpochToUTC converts a (seconds, nanoseconds) pair since the Unix epoch to a
// UTC time.
func EpochToUTC(seconds int64, nanos int32) time.Time {
	return time.Unix(seconds, int64(nanos)).UTC()
}

func toTime(ts *timestamppb.Timestamp) time.Time {
	if ts == nil || !ts.IsValid() {
		return time.Time{}
	}
	return EpochToUTC(ts.GetSeconds(), ts.GetNanos())
}
