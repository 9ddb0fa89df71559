// Package scheduler triggers named jobs on cron schedules in a configured
// time zone.
//
// Jobs run on robfig/cron goroutines wrapped with panic recovery and
// skip-if-still-running, each with its own timeout. Registering a name
// again replaces the previous schedule, so callers can simply re-register
// after a config reload.
package scheduler
