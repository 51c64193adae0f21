// Package link owns both ends of the rover<->controller stream.
//
// Ownership boundary:
// - rover-side Session (connect/reconnect, frame send, command receive)
// - controller-side Server and Conn (accept loop, per-conn receive,
//   bounded frame queue, command send)
// - the drop-oldest frame queue, the sole point of backpressure
package link
