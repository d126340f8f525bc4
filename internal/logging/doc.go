// Package logging provides file-based logging with rotation for oc-memory.
// Every CLI command writes JSON logs to ~/.oc-memory/logs/engine.log.
//
// Without --debug the level is info and nothing is written to stderr.
// With --debug the level is debug, and commands other than serve also
// copy each log line to stderr.
package logging
