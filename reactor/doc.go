// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the low-level, mask-based edge-triggered poller
// abstraction used by ioreactor.IOManager, with an epoll(7) backend on
// Linux. It deliberately stops at "register a mask, wait, get events back"
// — per-fd waiter bookkeeping, timeouts, and retry policy all live one
// layer up in ioreactor, which is the only caller.
package reactor
