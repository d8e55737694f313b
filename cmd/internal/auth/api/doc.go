// Package authapi exposes Carta's account and session endpoints over HTTP:
// registration, login, refresh-credential rotation, logout, logout-everywhere,
// and the authenticated profile view.
//
// Web clients use cookie transport: the refresh secret travels in an HttpOnly
// cookie paired with a CSRF double-submit token, and every rejected refresh
// carries explicit expire-cookie directives so browsers drop dead credentials.
// Native clients carry the refresh secret in the JSON body instead.
package authapi
