// Package logx configures feedwatch's structured logging.
//
// Logger is a small value-type wrapper on top of zerolog:
//   - Console output stays readable (short timestamp + file:line caller)
//   - File output is JSON lines
//   - An optional Telegram sink forwards warnings to an operator chat,
//     filtered by level and rate limited
package logx
