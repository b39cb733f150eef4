// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package lower rewrites a program into the operations its target can
// execute.
//
// Lowering runs in three stages around the external SSA construction and
// register allocation:
//
//   - PreSSA replaces operations the target lacks (integer and float
//     division, square root, power, derivatives, explicit derivative
//     texture sampling) with native sequences or builtin library calls,
//     normalizes texture sources and binds the shader stage input/output
//     conventions.
//   - SSA replaces double precision reciprocals with library calls and
//     moves immediates out of source slots the encoding cannot hold.
//   - PostRA removes no-ops and pseudo operations, substitutes the zero
//     register, splits 64 bit operations into halves and simplifies
//     loop and join flow.
//
// Every stage returns an error classified with the errdefs sentinels; an
// operation without a lowering rule fails with errdefs.ErrNotImplemented.
package lower
