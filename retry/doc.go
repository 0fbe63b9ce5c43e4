// Package retry implements the retry policy applied to outbound HTTP calls.
//
// A Policy describes whether and how a failed operation is reattempted:
//   - Enabled toggles retries without touching the tuning fields. A disabled
//     policy runs the operation exactly once and behaves like MaxAttempts = 1.
//   - MaxAttempts bounds the total number of invocations, first try included.
//   - The wait before attempt k (k >= 2) is
//     min(InitialInterval * Multiplier^(k-2), MaxInterval).
//     Waits are never negative; values that overflow the computation are
//     clamped to MaxInterval.
//
// Execute returns the error of the final attempt unchanged, so errors.Is and
// errors.As see the same chain as an unretried call. Cancelling the context
// aborts a pending wait and surfaces context.Cause for that context, which
// keeps cancellation distinguishable from an operation failure.
//
// An operation can refuse further attempts by wrapping its error with Halt.
// Execute stops immediately and returns the wrapped error.
package retry
