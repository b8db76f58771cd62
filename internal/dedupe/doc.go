// Package dedupe provides a generic seen-set with a time-to-live and a size
// bound, used to suppress repeated side effects for the same key.
package dedupe
