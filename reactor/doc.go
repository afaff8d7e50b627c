// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded epoll event loop that drives
// one process of the tree: descriptor readiness, timerfd timers and a posted
// job queue woken through an eventfd.
package reactor
