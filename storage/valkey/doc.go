// Package valkey provides a Valkey-backed implementation of the storage
// interfaces for production deployments.
//
// Grant codes and access tokens are stored with native Valkey TTLs under the
// shared "grant-code:" and "access-token:" namespaces, so expiry is enforced
// by the store itself and an expired entry is indistinguishable from an
// absent one. Grant-code redemption uses GETDEL, which makes the single-use
// guarantee hold across processes: of N concurrent redemptions of the same
// code, exactly one receives the record.
//
// Client and user registration records are durable JSON values; secrets and
// passwords are stored as bcrypt hashes only.
package valkey
