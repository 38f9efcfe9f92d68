// Package membership stores workspace roles and per-board guest access and
// keeps the two consistent.
//
// Every board access row implies a membership for the same user in the
// board's workspace. Granting board access to a non-member creates a Guest
// membership; revoking a guest's last board in a workspace deletes that
// membership. Removing a member clears their task assignments unless they
// were a Guest.
//
// Sequences that read and then cascade for one user (guest grant and
// revoke, member removal) hold a per-user keylock.Locker lock and run in a
// single transaction, so two concurrent revocations cannot both miss the
// other's delete.
package membership
