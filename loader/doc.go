// Package loader loads files into memory-backed documents as a background
// operation, one chunk at a time, so large loads can be paused, cancelled
// and observed.
package loader
