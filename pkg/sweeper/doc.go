// Package sweeper runs the periodic maintenance job: boards archived longer
// than the retention window are deleted with their tasks and access rows,
// revoked refresh tokens and expired reset tokens are purged.
//
// The job is scheduled with robfig/cron and deduplicated with singleflight,
// so a manual RunOnce during a scheduled run waits for and shares that run.
package sweeper
