// Package snapshot turns host-owned symbol descriptors into owned,
// immutable values that may cross goroutines.
//
// Capture must run where the descriptor is known to be valid (the
// goroutine that was handed it by the host). It tries, in order:
//
//  1. a structural clone of the descriptor's style (symbol.Cloner),
//  2. an immediate pre-render to an owned image (symbol.PreRenderer),
//  3. the default symbol, recording why 1 and 2 failed.
//
// Capture never fails: a bad descriptor yields a fallback Snapshot whose
// Cause wraps symbol.ErrCaptureFailed. Render rasterizes a Snapshot at a
// requested size without touching any host object, so it is safe to call
// from worker goroutines.
package snapshot
