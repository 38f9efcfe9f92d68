// Package auth provides the credential primitives shared by the task-board
// access core: the salted digest used for every stored secret, opaque token
// generation and short-lived JWT access tokens.
//
// # Hashing
//
// Hasher is deterministic for identical (secret, salt) input, so a digest can
// be stored and later used as a lookup key:
//
//	hasher, _ := auth.NewHasher(auth.HashSHA256)
//	salt, _ := auth.NewSalt()
//	digest := hasher.Hash(password, salt)
//	ok := hasher.Verify(password, digest, salt)
//
// Digests are always DigestSize (32) bytes. Verify compares in constant time.
//
// # Opaque tokens
//
// Refresh and reset tokens are random 256-bit values with a readable prefix:
//
//	generator := auth.NewTokenGenerator(hasher)
//	token, digest, err := generator.Generate(auth.RefreshTokenPrefix)
//	// token:  tbr_xxx (give to the user once)
//	// digest: Hash(token) (store in the database)
//
// # Access tokens
//
// AccessTokenIssuer signs HS256 JWTs whose subject is the user id. They are
// short lived (15 minutes by default) and paired with a refresh token.
package auth
