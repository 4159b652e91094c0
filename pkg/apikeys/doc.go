// Package apikeys issues and authenticates workspace API keys.
//
// Keys are bearer tokens of the form "ih_" followed by 43 base64url characters.
// Only the SHA-256 hash and an 11 character display prefix are stored; the
// plaintext is returned once by Issuer.Generate and never again.
//
// Issuance, revocation and listing are session operations and go through the
// rbac.Guard (apikeys:manage and apikeys:read, both admin and above).
// Authentication is the machine path: Authenticator.Authenticate resolves the
// token to an auth.AuthInfo and RequireScope checks the granted scopes.
//
// A key is either active or revoked. Revocation is terminal and idempotent.
//
// Last-used timestamps are written by a Toucher, either immediately in the
// background (AsyncToucher) or buffered and flushed on a cron schedule
// (BatchToucher).
package apikeys
