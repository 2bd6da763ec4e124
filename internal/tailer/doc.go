// Package tailer reads lines appended to a file since the previous read.
//
// A Tailer keeps a byte offset into the file. Each Poll returns the complete
// lines written after that offset and advances it past the last newline, so
// a half-written line is picked up whole on a later poll. Truncation (size
// below the offset) and rotation (a different file behind the same path)
// reset the offset to zero. A missing file is not an error.
package tailer
