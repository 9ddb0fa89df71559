// Package logx configures adventbot's structured logging.
//
// logx.Logger is a small wrapper on top of zerolog:
//   - console output with a short timestamp and file:line caller
//   - optional JSON file sink
//   - optional Telegram sink to the log chat (min level + rate limit)
//
// A Service can be reconfigured at runtime with Apply; loggers derived from
// it follow the new outputs without being recreated.
package logx
