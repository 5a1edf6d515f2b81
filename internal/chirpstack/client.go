// ABOUTME: ChirpStack gRPC client with login, bearer metadata and one-shot re-authentication
// ABOUTME: Classifies gRPC failures into unrecoverable and soft errors

package chirpstack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chirpstack/chirpstack/api/go/v4/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ErrUnrecoverable marks failures the process cannot recover from by itself.
var ErrUnrecoverable = errors.New("chirpstack: unrecoverable error")

// DefaultRetryDelay is the pause between re-authentication and replaying a
// rejected call.
const DefaultRetryDelay = 2 * time.Second

// ExpiryMargin is how long before its exp claim a token is treated as expired.
const ExpiryMargin = 10 * time.Second

// Config holds the credentials and retry settings for a Client.
type Config struct {
	Email      string
	Password   string
	RetryDelay time.Duration
}

// Client is a read-only ChirpStack API client. It is not safe for concurrent
// use with a shared Session.
type Client struct {
	internal       api.InternalServiceClient
	tenants        api.TenantServiceClient
	applications   api.ApplicationServiceClient
	devices        api.DeviceServiceClient
	deviceProfiles api.DeviceProfileServiceClient

	email      string
	password   string
	retryDelay time.Duration
	logger     *slog.Logger
}

// Dial opens a plaintext connection to a ChirpStack API interface
// (host:port). The connection is established lazily on first use.
func Dial(target string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %w", ErrUnrecoverable, target, err)
	}
	return conn, nil
}

// New creates a client over an established connection.
func New(conn grpc.ClientConnInterface, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &Client{
		internal:       api.NewInternalServiceClient(conn),
		tenants:        api.NewTenantServiceClient(conn),
		applications:   api.NewApplicationServiceClient(conn),
		devices:        api.NewDeviceServiceClient(conn),
		deviceProfiles: api.NewDeviceProfileServiceClient(conn),
		email:          cfg.Email,
		password:       cfg.Password,
		retryDelay:     delay,
		logger:         logger.With("component", "chirpstack"),
	}
}

// Authenticate logs in with the configured credentials. Any failure is
// unrecoverable.
func (c *Client) Authenticate(ctx context.Context) (Session, error) {
	resp, err := c.internal.Login(ctx, &api.LoginRequest{
		Email:    c.email,
		Password: c.password,
	})
	if err != nil {
		switch status.Code(err) {
		case codes.Unavailable:
			c.logger.Error("network server unavailable", "error", err)
		case codes.Unauthenticated, codes.PermissionDenied:
			c.logger.Error("login rejected", "email", c.email, "error", err)
		default:
			c.logger.Error("login failed", "error", err)
		}
		return Session{}, fmt.Errorf("%w: login: %w", ErrUnrecoverable, err)
	}

	sess := NewSession(resp.GetJwt())
	c.logger.Debug("authenticated", "expires_at", sess.ExpiresAt())
	return sess, nil
}

// invoke runs an authenticated call. A session whose token is expired, or
// expires within ExpiryMargin, is refreshed before the call. On
// codes.Unauthenticated it logs in again, replaces *sess, waits the retry
// delay and replays fn once.
func invoke[T any](ctx context.Context, c *Client, sess *Session, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if sess.Expired(time.Now().Add(ExpiryMargin)) {
		c.logger.Debug("session expired, re-authenticating", "op", op, "expires_at", sess.ExpiresAt())
		fresh, err := c.Authenticate(ctx)
		if err != nil {
			return zero, err
		}
		*sess = fresh
	}

	resp, err := fn(sess.outgoing(ctx))
	if status.Code(err) != codes.Unauthenticated {
		if err != nil {
			return zero, c.classify(op, err)
		}
		return resp, nil
	}

	c.logger.Warn("session rejected, re-authenticating", "op", op, "expires_at", sess.ExpiresAt())
	fresh, err := c.Authenticate(ctx)
	if err != nil {
		return zero, err
	}
	*sess = fresh

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-time.After(c.retryDelay):
	}

	resp, err = fn(sess.outgoing(ctx))
	if err == nil {
		return resp, nil
	}
	if status.Code(err) == codes.Unauthenticated {
		c.logger.Error("session rejected after re-authentication", "op", op, "error", err)
		return zero, fmt.Errorf("%w: %s: %w", ErrUnrecoverable, op, err)
	}
	return zero, c.classify(op, err)
}

// classify wraps a failed call. The gRPC status stays reachable through the
// chain.
func (c *Client) classify(op string, err error) error {
	if status.Code(err) == codes.Unavailable {
		c.logger.Error("network server unavailable", "op", op, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrUnrecoverable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
