// Package session tracks outstanding NCP command transactions.
//
// Ownership boundary:
// - pending transaction table ordered by creation
// - confirmation/result matching and the at-most-one-match rule
// - per-attempt deadlines, retry/backoff and terminal outcomes
//
// The Manager is owned by a single goroutine and performs no locking.
package session
