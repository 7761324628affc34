// Package sched abstracts timer scheduling so that every delayed
// action in the subsystem (reconnect backoff, poll intervals, debounce
// windows) is individually cancelable and testable against a simulated
// clock.
package sched
