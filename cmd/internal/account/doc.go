// Package account implements the credential lifecycle of Comminq accounts.
//
// It drives registration and login, email verification, password recovery
// by one-time code, password rotation, external (OAuth) identity
// reconciliation and the email/name state rules on top of identity.Store.
//
// Every workflow:
//   - validates input before touching the store,
//   - performs its state change as one conditional store call,
//   - notifies best effort (a failed delivery never rolls back state),
//   - reports failures as identity kinds (unexpected ones become ErrInternal).
package account
