// Package point defines monitored point values and the key namespace that
// addresses them.
//
// A point value key has the form
//
//	{tenant}:device:{deviceId}:{pointName}
//
// Tenant ids never contain ':' so the tenant prefix of a key is unambiguous.
// Point names may contain ':'; parsing splits on the first three separators
// only.
package point
