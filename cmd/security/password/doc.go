// Package password provides credential hashing and verification for Comminq.
//
// It implements bcrypt hashing with a configurable cost factor and includes:
//   - Password policy validation (rune length, bcrypt's 72-byte input limit)
//   - Constant-time verification that reports malformed hashes as a mismatch
//   - A bound on concurrent hash/verify work, which is CPU heavy
//   - Random credential generation for accounts that never receive a password
//
// Security notes:
//   - Hash strings are treated as untrusted input during Verify.
//   - Verification refuses hashes whose cost is far above the configured cost.
package password
