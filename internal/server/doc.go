// Package server implements the linechat relay: the session registry, the
// command router, broadcast and direct-message routing, the idle reaper, and
// the connection supervisor that ties them to a listener.
//
// The implementation is organized into specialized files for configuration,
// registry, clients, routing, and the HTTP side-channel to keep the codebase
// maintainable and testable as the project grows.
package server
