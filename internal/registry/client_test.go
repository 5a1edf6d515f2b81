// ABOUTME: Tests for the registry client against an httptest server
// ABOUTME: Covers headers, paths, status classification and the typed helpers

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

type reply struct {
	status int
	body   string
}

// fakeRegistry answers "METHOD /path" from routes and 404s everything else.
type fakeRegistry struct {
	routes   map[string]reply
	requests []recorded
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.EscapedPath(), Auth: r.Header.Get("Authorization")}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}
	f.requests = append(f.requests, rec)

	rep, ok := f.routes[r.Method+" "+rec.Path]
	if !ok {
		rep = reply{status: http.StatusNotFound, body: `{"detail":"Not found."}`}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.status)
	_, _ = io.WriteString(w, rep.body)
}

func newTestClient(t *testing.T, routes map[string]reply) (*Client, *fakeRegistry) {
	t.Helper()
	fake := &fakeRegistry{routes: routes}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL: srv.URL + "/api/v-beta",
		Node:    "W030",
		Token:   "tok123",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c, fake
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Node: "W030"}, nil)
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "http://registry/api/"}, nil)
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "registry/api", Node: "W030"}, nil)
	assert.Error(t, err)
}

func TestDo_HeadersAndUniformResponse(t *testing.T) {
	c, fake := newTestClient(t, map[string]reply{
		"GET /api/v-beta/lorawandevices/7d1f5420e81235c1/": {status: http.StatusOK, body: `{"deveui":"7d1f5420e81235c1"}`},
	})

	resp, err := c.Do(context.Background(), http.MethodGet, "lorawandevices/7d1f5420e81235c1/", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, resp.OK())

	resp, err = c.Do(context.Background(), http.MethodGet, "lorawandevices/0101010101010101/", nil)
	require.NoError(t, err, "non-2xx is not a transport error")
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.False(t, resp.OK())

	require.Len(t, fake.requests, 2)
	assert.Equal(t, "node_auth tok123", fake.requests[0].Auth)
}

func TestDo_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: base, Node: "W030", Token: "t"}, nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), http.MethodGet, "lorawandevices/x/", nil)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.DeviceExists(context.Background(), "7d1f5420e81235c1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestExists(t *testing.T) {
	c, _ := newTestClient(t, map[string]reply{
		"GET /api/v-beta/lorawandevices/7d1f5420e81235c1/":            {status: http.StatusOK, body: `{}`},
		"GET /api/v-beta/lorawanconnections/W030/0202020202020202/": {status: http.StatusInternalServerError, body: `boom`},
	})
	ctx := context.Background()

	ok, err := c.DeviceExists(ctx, "7d1f5420e81235c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.DeviceExists(ctx, "0101010101010101")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.ConnectionExists(ctx, "0202020202020202")
	require.NoError(t, err)
	assert.False(t, ok, "unexpected status is treated as absent")
}

func TestUpdate_StatusError(t *testing.T) {
	c, _ := newTestClient(t, nil)

	err := c.UpdateDevice(context.Background(), "7d1f5420e81235c1", Device{Name: "x"})
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusNotFound, serr.Status)
	assert.Equal(t, http.MethodPatch, serr.Method)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestFindHardware(t *testing.T) {
	c, _ := newTestClient(t, map[string]reply{
		"GET /api/v-beta/sensorhardwares/SFM1x/": {status: http.StatusOK, body: `{"id":7,"hardware":"Sap Flow Meter","hw_model":"SFM1x"}`},
		"GET /api/v-beta/sensorhardwares/BAD/":   {status: http.StatusForbidden, body: `{}`},
	})
	ctx := context.Background()

	hw, err := c.FindHardware(ctx, "SFM1x")
	require.NoError(t, err)
	require.NotNil(t, hw)
	assert.Equal(t, 7, hw.ID)

	hw, err = c.FindHardware(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, hw)

	_, err = c.FindHardware(ctx, "BAD")
	var serr *StatusError
	assert.True(t, errors.As(err, &serr))
}

func TestCreateConnection_ReturnsHandle(t *testing.T) {
	c, fake := newTestClient(t, map[string]reply{
		"POST /api/v-beta/lorawanconnections/": {status: http.StatusCreated, body: `{}`},
	})

	handle, err := c.CreateConnection(context.Background(), Connection{
		DevEUI:         "7d1f5420e81235c1",
		ConnectionName: "SFM1x-Sap-Flow",
		ConnectionType: "OTAA",
		Margin:         5,
	})
	require.NoError(t, err)
	assert.Equal(t, "W030-SFM1x-Sap-Flow-7d1f5420e81235c1", handle)

	require.Len(t, fake.requests, 1)
	body := fake.requests[0].Body
	assert.Equal(t, "W030", body["node"])
	assert.Equal(t, "7d1f5420e81235c1", body["lorawan_device"])
	assert.Equal(t, "OTAA", body["connection_type"])
}

func TestCreateConnection_FailureReturnsNoHandle(t *testing.T) {
	c, _ := newTestClient(t, map[string]reply{
		"POST /api/v-beta/lorawanconnections/": {status: http.StatusBadRequest, body: `{"node":["invalid"]}`},
	})

	handle, err := c.CreateConnection(context.Background(), Connection{DevEUI: "7d1f5420e81235c1", ConnectionName: "n"})
	assert.Error(t, err)
	assert.Empty(t, handle)
}

func TestNodeScopedUpdates(t *testing.T) {
	c, fake := newTestClient(t, map[string]reply{
		"PATCH /api/v-beta/lorawanconnections/W030/7d1f5420e81235c1/": {status: http.StatusOK, body: `{}`},
		"PATCH /api/v-beta/lorawankeys/W030/7d1f5420e81235c1/":        {status: http.StatusOK, body: `{}`},
	})
	ctx := context.Background()

	require.NoError(t, c.UpdateConnection(ctx, "7d1f5420e81235c1", Connection{
		Node:           "ignored",
		DevEUI:         "ignored",
		ConnectionName: "SFM",
		LastSeenAt:     "2024-01-09T10:00:00Z",
	}))
	require.NoError(t, c.UpdateKeys(ctx, "7d1f5420e81235c1", Keys{Connection: "ignored", AppSessionKey: "aa", NetworkKey: "bb"}))

	require.Len(t, fake.requests, 2)
	assert.NotContains(t, fake.requests[0].Body, "node")
	assert.NotContains(t, fake.requests[0].Body, "lorawan_device")
	assert.Equal(t, "bb", fake.requests[1].Body["network_Key"])
	assert.NotContains(t, fake.requests[1].Body, "lorawan_connection")
}

func TestCreateKeys_RequiresConnection(t *testing.T) {
	c, fake := newTestClient(t, nil)

	assert.Error(t, c.CreateKeys(context.Background(), Keys{AppKey: "k"}))
	assert.Empty(t, fake.requests)
}

func TestEndpoint_EscapesSegments(t *testing.T) {
	assert.Equal(t, "sensorhardwares/a%2Fb/", endpoint(HardwareRouter, "a/b"))
	assert.Equal(t, "lorawankeys/W030/7d1f5420e81235c1/", endpoint(KeysRouter, "W030", "7d1f5420e81235c1"))
}
