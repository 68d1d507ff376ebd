// Package gatekeeper is the agent facing facade of the governance gateway.
//
// Every governed tool call is turned into a tool.execution_requested event.
// The facade waits a short grace window for the engine to finish the run; a
// low risk call therefore returns the tool output directly while an escalated
// call returns a pending token carrying the review reference.
package gatekeeper
