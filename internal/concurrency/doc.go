// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency holds small lock-free primitives; its ring buffer
// is used by the ioreactor package. Everything NUMA/CPU-affinity and
// WebSocket-specific that used to live here moved out: it had no role in
// a generic coroutine I/O runtime (see DESIGN.md).
package concurrency
