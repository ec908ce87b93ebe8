// Package search finds byte patterns in documents.
//
// A Finder runs Boyer-Moore-Horspool over a Source in bounded chunks, so the
// data never has to be resident at once. Task wraps a forward scan as an
// operation.Task that reports matches as it finds them and honours pause and
// cancellation between matches and between scan windows.
package search
