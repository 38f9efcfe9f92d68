// Package service assembles the access and credential core from
// configuration: user directory, throttles, credential managers,
// authenticator, membership store, sweeper, audit trail and the admin
// router. The process entry point lives in cmd/taskboard-auth.
package service
