// Package api provides the HTTP surface of the real-time value gateway.
//
// Routes live under /api/v1/realtime and require a tenant identity, taken
// from a bearer tenant token when a JWT secret is configured and from the
// trusted tenant header otherwise. /api/v1/health and /metrics are open.
//
// Every JSON response uses one envelope:
//
//	{"success": true, "data": {...}, "message": "...", "timestamp": "..."}
//	{"success": false, "error": "NOT_FOUND", "message": "...", "timestamp": "..."}
//
// The server follows the same lifecycle as the infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
