// Package auth implements authentication and session lifecycle for a
// multi-tenant task management application.
//
// Login:
//   - UserProvider verifies email and password against bcrypt hashes. Unknown
//     emails, wrong passwords and inactive accounts fail with the same
//     ErrInvalidCredentials after one full hash comparison.
//   - Auther issues an access token (JWT, HS256 or RS256) and a refresh
//     credential. The refresh credential travels in an http only cookie and only
//     its keyed hash is stored.
//
// Refresh rotation:
//   - Every refresh consumes the presented credential and mints a new one in the
//     same family. Presenting a consumed credential revokes the family.
//   - RefreshTokenStore has a bun backed implementation in this package and a
//     Redis implementation in the repository package.
//
// Authorization:
//   - Roles map to capabilities through a single table. RequireCapability guards
//     go-router routes using the claims placed in Locals by middleware/jwtware.
//
// Activity sinks:
//   - ActivitySink receives login, register, refresh and logout events. Sinks run
//     best effort (errors are logged). See activitymap for audit logging and
//     NewMetricsSink for Prometheus counters.
package auth
