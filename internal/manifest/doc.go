// Package manifest implements atomic, versioned layout persistence per video.
//
// # Overview
//
// A manifest describes one published tile set of a video: the layout descriptor,
// the codec that produced the tiles, and for every tile region the encoded chunks
// (one per GOP) with their blob paths. Every Save writes a new version; the
// per-video CURRENT pointer names the active one.
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x4D53_5354 ("TSSM")
//	  Version  (4 bytes) - Format version (currently 1)
//	  Checksum (4 bytes) - CRC32C of payload
//	  Length   (4 bytes) - Payload length in bytes
//
//	Payload:
//	  ID, CreatedAt, Video, Codec, Kind, Labels, FrameRate, TileDir
//	  Layout (size, frame count, segments of tile rects)
//	  Chunks per tile region, in Layout.Regions() order
//
// Strings are length-prefixed (2-byte length + bytes).
//
// # Atomic Protocol
//
//  1. Write the manifest blob to <video>/MANIFEST-NNNNNN.bin
//  2. Atomically update <video>/CURRENT to reference the new manifest
//
// Local stores use rename for step 2; S3 deployments route CURRENT through the
// DynamoDB commit store.
package manifest
