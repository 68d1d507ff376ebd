// Package approval is the reviewer side of the human-in-the-loop layer. It
// lists runs waiting for a decision and publishes reviewer verdicts as
// human.decision events for the engine to apply.
package approval
