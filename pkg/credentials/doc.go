// Package credentials issues, verifies and revokes refresh tokens and
// password reset tokens.
//
// Only digests are stored. The plaintext of a token is returned once, after
// the row that backs it has been committed.
//
// Refresh tokens follow NoToken -> Active -> (Revoked | Expired) per user,
// with at most one Active token. Issue returns nil while a token is active;
// callers revoke first or Rotate. Expired tokens may still be rotated,
// invalid or revoked ones may not.
//
// Reset tokens are single use. VerifyAndConsume deletes the row even when
// the token has expired.
package credentials
