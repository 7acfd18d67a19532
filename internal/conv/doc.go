// Package conv provides checked integer conversions for the fixed-width fields
// of on-disk formats (tile bitstream headers, offset tables, manifest payloads).
//
// Values read from disk are untrusted, so widths, heights, frame counts and
// offsets go through these helpers instead of bare casts.
package conv
