// Package throttle implements the attempt throttle used to lock out repeated
// failures of a protected action.
//
// A Throttle is bound to one namespace (NamespaceLogin, NamespaceResetEmail)
// so that the same discriminator, typically an email address, is counted
// independently per action. With DefaultPolicy:
//
//	1st failure  -> {1, nil}
//	2nd failure  -> {2, nil}
//	3rd failure  -> {3, now+10m}   locked
//
// While locked, callers must short-circuit the protected action after Check
// and must not record further failures. A successful action calls Reset.
//
// State lives in a Store with its own expiry: the lockout duration while
// locked, a 15 minute probation window otherwise. MemoryStore serves a single
// instance; RedisStore shares state across instances and applies the policy
// in one Lua script so concurrent failures are never under-counted. Losing
// the store only weakens rate limiting.
package throttle
