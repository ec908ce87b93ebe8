// Package document implements the editable view over a device.
//
// A Document composes a device with an edit overlay (package chain). Every
// accepted mutation is one splice on the overlay plus one entry in a linear
// undo history; reads stitch literal bytes and device bytes together.
//
// Policy checks happen before anything is touched: a read-only document
// rejects every mutation with types.ErrReadOnly, and a fixed-size document
// rejects length changes with types.ErrFrozenSize while still accepting
// overwrites.
//
// Saving commits the overlay to the device. When every device-backed span
// already sits at its own device offset the save writes only the edited
// spans (in place); otherwise the full content is written to a staging
// device that replaces the original on success. Either way a failed save
// leaves the document's content and modified state untouched and reports a
// *types.SaveError that tells whether the target was partially written.
//
// All methods are safe for concurrent use; mutations are serialized by a
// single lock and change notifications are delivered after it is released.
package document
