// Package hash provides the CRC32-Castagnoli checksum used to guard
// tile manifests against torn or corrupted writes.
//
//	checksum := hash.CRC32C(payload)
package hash
