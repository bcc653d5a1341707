// Package auth issues and checks the bearer tokens of the HTTP API.
//
// Tokens are HS256 JWTs signed with the api.token_secret configuration
// value. Each carries a Role:
//   - viewer: list instruments, read facets, watch events
//   - operator: everything a viewer can do plus open, close and set facets,
//     and save aliases
//
// Roles map to permissions statically (see HasPermission). There is no user
// database; tokens are minted with `instrumental token`.
package auth
