// Package sanitize strips dangerous markup from message bodies. Message
// content is raw HTML authored by peers; everything that enters the store or
// leaves over the relay goes through HTML first. Skipping it is an XSS hole,
// not a performance win.
package sanitize

import "github.com/microcosm-cc/bluemonday"

var policy = bluemonday.UGCPolicy()

// HTML returns s with all non-UGC markup removed. Formatting tags produced
// by the message composer (b, i, a, lists, code blocks) survive; scripts,
// event handlers and style attributes do not.
func HTML(s string) string {
	return policy.Sanitize(s)
}
