// Package assessor turns a tool-call intent into a risk assessment by asking a
// remote scorer for free text and deriving a 0-100 score from it.
//
// The assessor fails closed: whenever a usable score cannot be obtained the
// result is score 100 labelled BLOCK, which always routes the run to a human.
package assessor
