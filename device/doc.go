// Package device provides the raw byte-storage backends beneath a document.
//
// A Device reads and writes byte ranges, reports its size and is resized only
// through explicit Resize calls; writes never grow a device implicitly.
//
// Two implementations are provided:
//   - MemoryDevice holds its bytes in memory, either owned or mapped from a
//     file and copied on first write.
//   - FileDevice reads and writes an open file through an afero filesystem,
//     keeping a small read window to serve sequential reads.
//
// Devices are opened through an Opener, which applies the configured limits,
// refuses conflicting opens of the same path, and falls back to read-only
// access when write permission is denied:
//
//	op := device.NewOpener(device.OpenerOptions{Fs: afero.NewOsFs()})
//	dev, err := op.Open("disk.img", device.LoadOptions{Memory: true})
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
package device
