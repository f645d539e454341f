// Package crypto provides the cryptographic building blocks of Beacon Core:
// Ed25519 identity keys, X25519 key exchange, generic hashing, sealed box
// and secretbox encryption. This file is intentionally minimal; concrete
// implementations live in the subpackages:
//   - crypto/keys:  Ed25519 identity keys, Ed25519->X25519 conversion, X25519 key pairs
//   - crypto/hash:  generic hash (BLAKE2b-256)
//   - crypto/box:   sealed box and secretbox wire formats
package crypto
