// Package policy holds the governance rules applied by the engine: the score
// at which an action is escalated to a human reviewer, how long a reviewer has
// to respond, and how transient step failures are retried.
package policy
