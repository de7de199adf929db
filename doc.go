// Package auth is a pluggable authentication and authorization engine.
//
// It verifies caller identity through interchangeable strategies (a
// stateful session authenticator with a pending-action chain, a hashed
// opaque access-token authenticator, and a JWT authenticator backed by a
// pluggable codec) and resolves group/permission membership for access
// control decisions. Long-lived logins use a rotating selector:validator
// remember-me token, and failed attempts are throttled per key.
//
// The package is the public surface. It exposes [Engine], [Builder],
// [Config], the [Authenticator] strategies, and the collaborator
// interfaces an application must implement or wire ([UserProvider],
// [IdentityStore], [RememberStore], [GroupStore], [CookieSink]). Redis
// and Postgres adapters live in the redisstore and postgres subpackages;
// password hashing, JWT encoding, throttling, and session state live in
// their own subpackages.
//
// # Architecture boundaries
//
//   - The engine never touches HTTP routing, templates, or mail. It
//     consumes credentials and produces [Result] values; controllers own
//     the rest.
//   - Expected per-credential failures are failed Results with
//     machine-readable reasons, never errors. Errors are reserved for
//     infrastructure faults and caller misuse.
//   - All request-scoped strategy values ([SessionAuth], [TokenAuth],
//     [JWTAuth]) belong to one request and memoize within it.
//     Cross-request state lives only in the stores.
package auth
