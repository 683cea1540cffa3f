// Package directory implements the service directory: the process-wide map
// from a service name to the static record (configuration and type
// descriptors) and the shared runtime state that all participants of the
// service agree on at open-or-create time.
//
// The package focuses on:
//   - A two-phase creation protocol (Create -> Commit) so that concurrent
//     openers can distinguish "being created right now" from "creator
//     crashed mid-creation" and from "ready"
//   - Reference-counted attachment: the last participant to detach tears
//     the entry down and runs the cleanup hook registered by the creator
//   - A versioned, magic-tagged static record envelope that must round-trip
//     byte-for-byte between creator and openers
//
// Lifecycle errors are typed sentinels; callers branch on cause with
// errors.Is and translate them into their own taxonomy, they never have to
// string-match.
package directory
