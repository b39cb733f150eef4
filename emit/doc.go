// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package emit lays out an allocated program and encodes it into machine
// words.
//
// Layout orders the blocks of every function, inserts the branches a
// block needs to reach a successor that is not placed after it, and
// assigns instruction sizes and byte positions. On Tesla, 4 byte
// instructions are emitted in pairs; an unpaired one is widened to its
// 8 byte form.
//
// Encoding is driven by the per-opcode layout tables of the target: the
// opcode words of the chosen form are combined with register numbers,
// memory offsets, modifiers, rounding and condition codes at the bit
// positions the target reports. Branches to functions placed by the
// driver and calls into the builtin library produce relocation entries.
//
// # Usage
//
//	if err := emit.Emit(prog); err != nil {
//		return err
//	}
//	binary := prog.Code
//
// Errors are classified with the errdefs sentinels: instructions that
// should have been eliminated before emission fail with
// errdefs.ErrInvalidArgument, operations without an encoding with
// errdefs.ErrNotImplemented and code exceeding the size limit with
// errdefs.ErrOutOfRange.
package emit
