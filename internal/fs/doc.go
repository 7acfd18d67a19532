// Package fs abstracts the file operations behind local tile writes so that
// tests can inject failures.
//
//   - [LocalFS]: the os-backed implementation, exposed as [Default]
//   - [FaultyFS]: injects write, sync, close and rename failures by file name pattern
//
// Rules match when the file name contains the pattern. Temporary files
// embed the base name of their destination, so a rule for "0.tile" also
// covers its in-progress writes.
package fs
