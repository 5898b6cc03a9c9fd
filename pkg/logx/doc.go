// Package logx configures trackerd's structured logging.
//
// A small wrapper (logx.Logger) over zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output as "[ts] [LEVEL] msg k=v" lines that never fail the caller
//   - An optional mail alert sink (min-level + rate limiting)
package logx
