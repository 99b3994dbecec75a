// Package adaptive provides authenticated encryption for dagnode key material.
//
// Supported Algorithms:
//
//   - AES-256-GCM: Preferred when hardware AES support is available
//   - ChaCha20-Poly1305: Fallback for systems without AES-NI
//
// Seal and Open wrap a payload in a self-describing envelope keyed by an
// Argon2id passphrase derivation. The secret store uses them for its key file.
//
// Usage:
//
//	sealed, err := adaptive.Seal(passphrase, seed)
//	seed, err := adaptive.Open(passphrase, sealed)
package adaptive
