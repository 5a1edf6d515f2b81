// ABOUTME: Paginated tenant, application and device listings
// ABOUTME: Drives List RPCs with a fixed page size until total_count is reached

package chirpstack

import (
	"context"
	"time"

	"github.com/chirpstack/chirpstack/api/go/v4/api"
)

// PageSize is the limit sent with every List request.
const PageSize = 100

// Tenant is a ChirpStack tenant.
type Tenant struct {
	ID   string
	Name string
}

// Application is a ChirpStack application.
type Application struct {
	ID          string
	TenantID    string
	Name        string
	Description string
}

// DeviceSummary is a device list item.
type DeviceSummary struct {
	DevEUI        string
	Name          string
	Description   string
	ApplicationID string
	ProfileID     string
	ProfileName   string
	LastSeenAt    time.Time
}

// pageFunc fetches one page and returns its records with the server's total.
type pageFunc[T any] func(ctx context.Context, limit, offset uint32) ([]T, uint32, error)

// paginate collects every page. It stops when the collected count reaches the
// reported total, or on an empty page.
func paginate[T any](ctx context.Context, page pageFunc[T]) ([]T, error) {
	var (
		records []T
		offset  uint32
	)
	for {
		result, total, err := page(ctx, PageSize, offset)
		if err != nil {
			return nil, err
		}
		records = append(records, result...)
		offset += PageSize

		if uint32(len(records)) >= total || len(result) == 0 {
			return records, nil
		}
	}
}

// ListTenants returns every tenant visible to the session.
func (c *Client) ListTenants(ctx context.Context, sess *Session) ([]Tenant, error) {
	return paginate(ctx, func(ctx context.Context, limit, offset uint32) ([]Tenant, uint32, error) {
		resp, err := invoke(ctx, c, sess, "TenantService.List", func(ctx context.Context) (*api.ListTenantsResponse, error) {
			return c.tenants.List(ctx, &api.ListTenantsRequest{Limit: limit, Offset: offset})
		})
		if err != nil {
			return nil, 0, err
		}
		out := make([]Tenant, 0, len(resp.GetResult()))
		for _, t := range resp.GetResult() {
			out = append(out, Tenant{ID: t.GetId(), Name: t.GetName()})
		}
		return out, resp.GetTotalCount(), nil
	})
}

// ListApplications returns every application of a tenant.
func (c *Client) ListApplications(ctx context.Context, sess *Session, tenantID string) ([]Application, error) {
	return paginate(ctx, func(ctx context.Context, limit, offset uint32) ([]Application, uint32, error) {
		resp, err := invoke(ctx, c, sess, "ApplicationService.List", func(ctx context.Context) (*api.ListApplicationsResponse, error) {
			return c.applications.List(ctx, &api.ListApplicationsRequest{
				Limit:    limit,
				Offset:   offset,
				TenantId: tenantID,
			})
		})
		if err != nil {
			return nil, 0, err
		}
		out := make([]Application, 0, len(resp.GetResult()))
		for _, a := range resp.GetResult() {
			out = append(out, Application{
				ID:          a.GetId(),
				TenantID:    tenantID,
				Name:        a.GetName(),
				Description: a.GetDescription(),
			})
		}
		return out, resp.GetTotalCount(), nil
	})
}

// ListDevices returns every device of an application.
func (c *Client) ListDevices(ctx context.Context, sess *Session, applicationID string) ([]DeviceSummary, error) {
	return paginate(ctx, func(ctx context.Context, limit, offset uint32) ([]DeviceSummary, uint32, error) {
		resp, err := invoke(ctx, c, sess, "DeviceService.List", func(ctx context.Context) (*api.ListDevicesResponse, error) {
			return c.devices.List(ctx, &api.ListDevicesRequest{
				Limit:         limit,
				Offset:        offset,
				ApplicationId: applicationID,
			})
		})
		if err != nil {
			return nil, 0, err
		}
		out := make([]DeviceSummary, 0, len(resp.GetResult()))
		for _, d := range resp.GetResult() {
			out = append(out, DeviceSummary{
				DevEUI:        d.GetDevEui(),
				Name:          d.GetName(),
				Description:   d.GetDescription(),
				ApplicationID: applicationID,
				ProfileID:     d.GetDeviceProfileId(),
				ProfileName:   d.GetDeviceProfileName(),
				LastSeenAt:    toTime(d.GetLastSeenAt()),
			})
		}
		return out, resp.GetTotalCount(), nil
	})
}

// ListAllDevices walks tenants, their applications and their devices.
func (c *Client) ListAllDevices(ctx context.Context, sess *Session) ([]DeviceSummary, error) {
	tenants, err := c.ListTenants(ctx, sess)
	if err != nil {
		return nil, err
	}

	var all []DeviceSummary
	for _, t := range tenants {
		apps, err := c.ListApplications(ctx, sess, t.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range apps {
			devices, err := c.ListDevices(ctx, sess, a.ID)
			if err != nil {
				return nil, err
			}
			all = append(all, devices...)
		}
	}
	c.logger.Debug("listed devices", "tenants", len(tenants), "devices", len(all))
	return all, nil
}
