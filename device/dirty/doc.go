// Package dirty tracks the byte ranges a save writes into a device and
// flushes them once the save has finished writing.
//
// The tracker coalesces ranges into block-aligned, non-overlapping runs and
// issues a single durable sync per flush. File handles are synced with
// platform-specific system calls (fdatasync on Linux, F_FULLFSYNC on macOS,
// FlushFileBuffers on Windows).
package dirty
