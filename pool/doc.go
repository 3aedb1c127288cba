// Package pool
// Author: momentics <momentics@gmail.com>
//
// Typed object pooling for the server hot path: read scratch buffers and
// per-connection accumulation buffers are recycled instead of reallocated.
package pool
