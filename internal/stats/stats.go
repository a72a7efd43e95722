// Package stats carries build identification, injected at link time.
package stats

var Version = "0.1.0"
var Commit = "HEAD"
var BuildDate = "now"
