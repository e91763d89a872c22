// Package auth provides user registration, password login and session tokens for Lookout.
//
// # Overview
//
// This package implements the authentication core: a credential store for user
// records, salted password hashing, and a stateless signed token that carries a
// user id and email for one hour. There is no server-side session table and no
// revocation list; expiry is the only way a token stops working.
//
// # Key Components
//
// Token Codec: HS256 JWT issuance and verification
//
//	codec := auth.NewTokenCodec(secret, time.Hour)
//	token, err := codec.Issue(user.ID, user.Email)
//	identity, err := codec.Verify(token)
//	// errors.Is(err, auth.ErrTokenExpired) -> ask the user to log in again
//	// errors.Is(err, auth.ErrInvalidToken) -> corrupt or forged token
//	// errors.Is(err, auth.ErrMissingSecret) -> server misconfiguration
//
// Passwords: bcrypt with a fixed cost
//
//	hash, err := auth.HashPassword("longenough")
//	ok := auth.CheckPassword(hash, "longenough")
//
// Credential Store: Postgres or in-memory user records
//
//	store := auth.NewDBUserStore(db)
//	store := auth.NewMemoryUserStore()
//
// Auth Service: the three operations exposed over HTTP
//
//	svc := auth.NewService(store, codec, logger)
//	err := svc.Register(ctx, "alice", "alice@example.com", "longenough")
//	token, err := svc.Login(ctx, "alice@example.com", "longenough")
//	session := svc.CheckSession(token) // never fails
//
// # Error Handling
//
// Register and Login return sentinel errors (ErrValidation, ErrUserExists,
// ErrInvalidCredentials, ErrMissingSecret) that pkg/api maps to HTTP status
// codes. Login never reveals whether an email is registered.
//
// # Related Packages
//
//   - pkg/middleware: Request gatekeeper built on TokenCodec
//   - pkg/api: HTTP handlers for register, login, check and logout
package auth
