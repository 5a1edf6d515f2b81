// Package chirpstack is a read-only client for the ChirpStack v4 gRPC API.
//
// # Sessions
//
// ChirpStack issues a JWT on Login that is sent as bearer metadata with every
// other call. The token is held in a Session value that callers own and pass
// to each call by pointer:
//
//	sess, err := client.Authenticate(ctx)
//	dev, err := client.GetDevice(ctx, &sess, "7d1f5420e81235c1")
//
// When a call is rejected with codes.Unauthenticated the client logs in again,
// stores the new Session behind the pointer, waits a short fixed delay and
// replays the call once. A second rejection is not retried.
//
// # Errors
//
// Errors wrapping ErrUnrecoverable mean the process cannot make progress
// without a new connection or new credentials: login failed, the server is
// unavailable, or credentials were rejected twice in a row. Everything else is
// returned wrapped with the RPC name and keeps its gRPC status.
//
// # Pagination
//
// List RPCs are driven with a fixed page size of 100 until the accumulated
// record count reaches the server's total_count.
package chirpstack
