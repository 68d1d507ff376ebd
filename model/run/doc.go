// Package run defines the governance data model: the immutable execution
// request an agent submits, the durable workflow run the engine advances, and
// the reviewer decision that unblocks an escalated run.
package run
