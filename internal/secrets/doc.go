// Package secrets redacts credentials from text the agent is about to send
// or store. Each rule is a regular expression, optionally gated by keywords
// that must appear somewhere in the text before the pattern is tried.
package secrets
