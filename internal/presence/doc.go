// Package presence
// Author: momentics <momentics@gmail.com>
//
// Online-presence tracking on top of the event loop server. Clients log in
// with a JSON user record, answer periodic "ping" heartbeats with "pang",
// and are reported offline to an HTTP backend when their connection ends.
package presence
