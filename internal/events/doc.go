// Package events fans pipeline notifications out to any number of observers.
//
// Publishers never block: Publish hands the event to a bounded inbox and
// returns, discarding the oldest pending hand-off when the inbox is full. A
// single loop started by Run owns the subscriber registry and appends each
// event to every matching subscription's ring buffer. A slow subscriber loses
// its oldest buffered events, never the newest, and the next event it receives
// carries Gap so it knows to re-read the store.
//
// Events are notifications only. The lecture store remains the source of
// truth.
package events
