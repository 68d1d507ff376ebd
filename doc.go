// Package atlas provides the ATLAS governance gateway: a durable risk
// assessment workflow that sits between an AI agent and the tools it wants
// to run.
//
// Every governed tool call becomes a run. The run is scored by a risk
// assessor; low risk calls execute immediately while high risk calls wait
// for a human reviewer, bounded by a review deadline. Every run ends with
// exactly one audit entry.
//
// The root package wires the sub-packages together from a Config:
//
//   - service/engine     – the run state machine, reaper and recovery
//   - service/gatekeeper – the agent facing tool facade
//   - service/approval   – reviewer listing and decisions
//   - service/runstore   – durable run state (memory, fs, redis)
//   - service/event      – the event bus (memory, fs)
//   - transport/http     – the HTTP surface
//
// Typical use:
//
//	cfg, _ := atlas.LoadConfig(ctx, "atlas.yaml")
//	srv, _ := atlas.New(cfg, atlas.WithTools(gatekeeper.WelfareTools()...))
//	err := srv.Start(ctx)
package atlas
