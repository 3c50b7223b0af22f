// Package audio inspects captured voice notes: container sniffing, duration
// and format metadata, and the size/duration checks applied before upload.
package audio
