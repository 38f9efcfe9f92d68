// Package config loads service configuration from TASKBOARD_* environment
// variables, optionally layered over a YAML file.
//
// Precedence, lowest first: Default(), the YAML document passed to LoadFile,
// then environment variables. Unset or unparsable variables leave the
// previous value in place. Both loaders validate the result.
//
//	cfg, err := config.LoadFile("/etc/taskboard/auth.yaml")
//
// Setting TASKBOARD_REDIS_URL together with TASKBOARD_THROTTLE_BACKEND=redis
// moves attempt throttling and per-user locks into Redis so several
// instances share them.
package config
