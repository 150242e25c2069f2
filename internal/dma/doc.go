// Package dma runs the decision-making algorithms that judge a thought and
// the selector that turns their verdicts into one candidate action.
//
// Evaluators run concurrently against one read-only Snapshot. Each outcome
// is a tagged Result: a verdict or the reason it is missing. The ethical
// evaluator is mandatory; if it fails, Set.Run returns
// ErrEthicalUnavailable. Any other failure marks the results Degraded and
// the round continues without that verdict.
package dma
