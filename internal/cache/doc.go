// Package cache implements the gateway's Redis-backed adapters.
//
// ValueCache is the first tier of the retrieval cascade. Point values live
// under their canonical key ("{tenant}:device:{id}:{name}") as a JSON
// point.Record with an expiry set by the ingest.
//
// SubscriptionStore persists subscriptions as JSON under
// "{tenant}:subscription:{id}". The Redis TTL of a record is its expiry.
package cache
