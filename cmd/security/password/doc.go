// Package password provides Argon2id password hashing for Carta.
//
// Hashes use the PHC string format so parameters travel with the hash and
// older hashes remain verifiable after parameter upgrades. Verification is
// bounded to refuse attacker-controlled hash strings with pathological
// parameters.
package password
