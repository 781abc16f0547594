// Package engine probes the health endpoint of the device-control engine.
//
// The gateway does not talk to the engine for anything else; the probe
// result is surfaced through the stats endpoint so operators can see
// whether the system that produces device values is up.
//
// Usage:
//
//	client, err := engine.New(cfg.Engine)
//	if err != nil {
//	    return err
//	}
//	healthy, status, err := client.Check(ctx)
package engine
