// Package logx configures bwkeeper's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured (the control surface tails it)
//   - Optional live stream sink (min-level + rate limiting) for the web UI
package logx
