// ABOUTME: Hand-written fakes of the generated ChirpStack service clients
// ABOUTME: Only the RPCs the tracker calls are implemented

package chirpstack

import (
	"context"
	"strings"
	"time"

	"github.com/chirpstack/chirpstack/api/go/v4/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type fakeInternal struct {
	api.InternalServiceClient
	logins int
	tokens []string
	err    error
}

func (f *fakeInternal) Login(_ context.Context, in *api.LoginRequest, _ ...grpc.CallOption) (*api.LoginResponse, error) {
	f.logins++
	if f.err != nil {
		return nil, f.err
	}
	tok := "token"
	if len(f.tokens) > 0 {
		tok = f.tokens[0]
		f.tokens = f.tokens[1:]
	}
	return &api.LoginResponse{Jwt: tok}, nil
}

type fakeTenants struct {
	api.TenantServiceClient
	total int
	calls []*api.ListTenantsRequest
}

func (f *fakeTenants) List(_ context.Context, in *api.ListTenantsRequest, _ ...grpc.CallOption) (*api.ListTenantsResponse, error) {
	f.calls = append(f.calls, in)
	resp := &api.ListTenantsResponse{TotalCount: uint32(f.total)}
	for i := int(in.Offset); i < f.total && i < int(in.Offset+in.Limit); i++ {
		resp.Result = append(resp.Result, &api.TenantListItem{Id: "tenant", Name: "t"})
	}
	return resp, nil
}

type fakeApplications struct {
	api.ApplicationServiceClient
	byTenant map[string][]string
}

func (f *fakeApplications) List(_ context.Context, in *api.ListApplicationsRequest, _ ...grpc.CallOption) (*api.ListApplicationsResponse, error) {
	ids := f.byTenant[in.TenantId]
	resp := &api.ListApplicationsResponse{TotalCount: uint32(len(ids))}
	for _, id := range ids {
		resp.Result = append(resp.Result, &api.ApplicationListItem{Id: id, Name: id})
	}
	return resp, nil
}

type fakeDevices struct {
	api.DeviceServiceClient

	// get is called for every Get; tokens records the bearer token seen.
	get    func(ctx context.Context, in *api.GetDeviceRequest) (*api.GetDeviceResponse, error)
	tokens []string

	keys       *api.DeviceKeys
	keysErr    error
	activation *api.DeviceActivation
	actErr     error
	byApp      map[string][]string
}

func (f *fakeDevices) Get(ctx context.Context, in *api.GetDeviceRequest, _ ...grpc.CallOption) (*api.GetDeviceResponse, error) {
	f.tokens = append(f.tokens, bearer(ctx))
	return f.get(ctx, in)
}

func (f *fakeDevices) GetKeys(context.Context, *api.GetDeviceKeysRequest, ...grpc.CallOption) (*api.GetDeviceKeysResponse, error) {
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	return &api.GetDeviceKeysResponse{DeviceKeys: f.keys}, nil
}

func (f *fakeDevices) GetActivation(context.Context, *api.GetDeviceActivationRequest, ...grpc.CallOption) (*api.GetDeviceActivationResponse, error) {
	if f.actErr != nil {
		return nil, f.actErr
	}
	return &api.GetDeviceActivationResponse{DeviceActivation: f.activation}, nil
}

func (f *fakeDevices) List(_ context.Context, in *api.ListDevicesRequest, _ ...grpc.CallOption) (*api.ListDevicesResponse, error) {
	euis := f.byApp[in.ApplicationId]
	resp := &api.ListDevicesResponse{TotalCount: uint32(len(euis))}
	for _, eui := range euis {
		resp.Result = append(resp.Result, &api.DeviceListItem{DevEui: eui, Name: eui})
	}
	return resp, nil
}

type fakeProfiles struct {
	api.DeviceProfileServiceClient
	profile *api.DeviceProfile
}

func (f *fakeProfiles) Get(context.Context, *api.GetDeviceProfileRequest, ...grpc.CallOption) (*api.GetDeviceProfileResponse, error) {
	return &api.GetDeviceProfileResponse{DeviceProfile: f.profile}, nil
}

func bearer(ctx context.Context) string {
	md, _ := metadata.FromOutgoingContext(ctx)
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimPrefix(vals[len(vals)-1], "Bearer ")
}

func newTestClient() (*Client, *fakeInternal, *fakeDevices) {
	internal := &fakeInternal{}
	devices := &fakeDevices{}
	c := &Client{
		internal:       internal,
		tenants:        &fakeTenants{},
		applications:   &fakeApplications{},
		devices:        devices,
		deviceProfiles: &fakeProfiles{},
		email:          "admin@example.com",
		password:       "secret",
		retryDelay:     time.Millisecond,
		logger:         discardLogger(),
	}
	return c, internal, devices
}
