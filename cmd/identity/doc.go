// Package identity owns the Account aggregate of the Comminq account service.
//
// It defines the account record, the stable error kinds shared by every layer,
// and the Store boundary whose mutations are single conditional updates so that
// one-time secrets cannot be spent twice.
//
// Two stores are provided: MemoryStore for development and tests, and
// PostgresStore for production (schema managed by the embedded goose migrations).
package identity
