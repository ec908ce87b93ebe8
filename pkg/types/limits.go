package types

import "time"

// ============================================================================
// Default Limits
// ============================================================================
// These constants size the caches, buffers and thresholds used across the
// device, document and operation layers.

const (
	// DefaultMemoryLoadLimit caps full in-memory loads (1 GiB).
	DefaultMemoryLoadLimit = 1 << 30

	// DefaultCacheSize is the read window kept by file devices (8 MiB).
	DefaultCacheSize = 8 << 20

	// DefaultCacheBoundary aligns the start of the read window (1 MiB).
	DefaultCacheBoundary = 1 << 20

	// DefaultWriteBlock is the largest single write issued by a saver (1 MiB).
	DefaultWriteBlock = 1 << 20

	// DefaultHistoryLimit is the number of undo steps kept per document.
	DefaultHistoryLimit = 10000

	// DefaultMergeLimit is the largest literal span produced by merging
	// adjacent inserts (4 KiB).
	DefaultMergeLimit = 4 << 10

	// DefaultWorkers is the number of operations allowed to run at once.
	DefaultWorkers = 4

	// DefaultGracePeriod bounds how long CancelAll waits for operations.
	DefaultGracePeriod = 5 * time.Second

	// SearchChunkSize is the read size used by pattern finders (1 MiB).
	SearchChunkSize = 1 << 20
)

// Limits defines resource constraints for devices and documents.
type Limits struct {
	// MemoryLoadLimit is the largest device that may be loaded fully into memory.
	// Zero disables the check.
	MemoryLoadLimit int64

	// CacheSize is the size of the file device read window. Zero disables caching.
	CacheSize int64

	// CacheBoundary aligns the read window start. Must not exceed CacheSize.
	CacheBoundary int64

	// WriteBlock is the largest single write issued while saving.
	WriteBlock int64

	// HistoryLimit is the number of undo steps kept per document.
	HistoryLimit int

	// MergeLimit is the largest literal span produced by merging adjacent inserts.
	// Zero disables merging.
	MergeLimit int
}

// DefaultLimits returns the standard limits.
func DefaultLimits() Limits {
	return Limits{
		MemoryLoadLimit: DefaultMemoryLoadLimit,
		CacheSize:       DefaultCacheSize,
		CacheBoundary:   DefaultCacheBoundary,
		WriteBlock:      DefaultWriteBlock,
		HistoryLimit:    DefaultHistoryLimit,
		MergeLimit:      DefaultMergeLimit,
	}
}

// StrictLimits returns conservative limits for constrained environments.
func StrictLimits() Limits {
	return Limits{
		MemoryLoadLimit: 64 << 20,
		CacheSize:       1 << 20,
		CacheBoundary:   64 << 10,
		WriteBlock:      256 << 10,
		HistoryLimit:    1000,
		MergeLimit:      DefaultMergeLimit,
	}
}

// Normalize fills zero or inconsistent fields with defaults and returns the result.
func (l Limits) Normalize() Limits {
	d := DefaultLimits()
	if l.CacheBoundary <= 0 {
		l.CacheBoundary = d.CacheBoundary
	}
	if l.CacheSize > 0 && l.CacheBoundary > l.CacheSize {
		l.CacheBoundary = l.CacheSize
	}
	if l.WriteBlock <= 0 {
		l.WriteBlock = d.WriteBlock
	}
	if l.HistoryLimit <= 0 {
		l.HistoryLimit = d.HistoryLimit
	}
	if l.MergeLimit < 0 {
		l.MergeLimit = 0
	}
	return l
}
