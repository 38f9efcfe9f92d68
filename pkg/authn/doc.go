// Package authn runs the login, registration, password reset and session
// flows on top of the user directory, the attempt throttles and the
// credential managers.
//
// Login is a small state machine per email: unlocked attempts either succeed
// (clearing the throttle) or fail (consuming an attempt), and the attempt
// that reaches the threshold returns OutcomeLocked. While locked, Login
// answers OutcomeLocked without checking the password.
package authn
