// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the edge-triggered readiness notifier used by the
// server loop: an epoll instance keyed by file descriptor plus an eventfd
// waker that lets other goroutines interrupt a blocking Wait.
package reactor
