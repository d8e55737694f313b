// Package identity manages Carta principals: the restaurant-owner accounts
// that own menus and sessions.
//
// The session subsystem consumes only the read-only AuthState capability
// (active? verified?) so it stays independent of how accounts are persisted.
package identity
