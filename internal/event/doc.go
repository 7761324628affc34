// Package event implements the in-process dispatcher that fans inbound
// channel events out to registered listeners.
//
// Internally events are a closed set of kinds so handling is
// exhaustive; the dynamic wire names ("connect", "q-1:progress",
// "data:updated", ...) are translated at the channel boundary only.
// Registration returns an explicit subscription handle that the owner
// must cancel; the dispatcher never extends a listener's lifetime
// beyond its registration.
package event
