// Package types defines the shared vocabulary of hexkit: typed errors with
// stable categories and the resource limits used by devices, documents and
// background operations.
//
// Design goals:
//   - Callers branch on error kind, never on message text.
//   - Errors that carry data (byte counts, offsets, limits) expose it as fields.
//   - Limits have documented defaults and named presets.
//
// This package has no dependencies beyond the standard library.
package types
