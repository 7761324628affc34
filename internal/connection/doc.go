// Package connection owns the one logical live channel of the
// application: a websocket connection with bounded reconnection,
// degraded-mode fallback signaling, and typed publish of outbound
// events. Inbound frames are decoded and handed to the event
// dispatcher; consumers read connection state through the manager and
// never drive transitions themselves.
package connection
