// Package model defines the shared data types of the real-time
// subsystem: connection state, job execution state, and the wire
// payload shapes exchanged with the server.
//
// Types here are plain data. The JSON field names on the payload
// structs are a stable contract with the server and the presentation
// layer; renaming them is a breaking change.
package model
