// Package logx configures newspush's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional operator alert sink that forwards warnings and errors to a
//     Telegram chat (min-level + rate limiting)
package logx
