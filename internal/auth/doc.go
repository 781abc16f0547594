// Package auth issues and verifies the tenant tokens accepted by the API.
//
// A tenant token is an HS256 JWT whose tenant_id claim names the tenant
// the caller acts for. The admin backend mints them with the shared
// secret; the gateway only verifies them. When no secret is configured
// the API trusts the tenant header set by the upstream proxy instead.
package auth
