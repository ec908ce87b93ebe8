// Package mmfile provides platform-specific helpers for memory-mapping files
// that are loaded fully into memory.
//
// On Unix the requested range is mapped read-only with mmap(2); elsewhere the
// range is read into a fresh buffer. Either way the caller receives a cleanup
// function that must be called once the bytes are no longer referenced.
package mmfile
