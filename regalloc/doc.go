// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package regalloc assigns physical registers to the virtual registers of
// an SSA program.
//
// # Pipeline
//
// Run processes each function in this order:
//
//  1. InsertConstraints groups sources that must occupy consecutive
//     registers behind CONSTRAINT instructions.
//  2. InsertPhiMoves replaces every phi operand with a copy at the end of
//     its predecessor.
//  3. BuildLiveSets and BuildIntervals compute live-in sets and live
//     intervals over the instruction serials.
//  4. Coalesce merges phi operands (mandatory), then unions and texture or
//     constraint groups, then plain copies.
//  5. Instructions with several results get an aligned block of
//     registers, then a linear scan assigns everything else.
//
// # Registers
//
// A register id counts allocation units of its file (see
// ir.Target.FileUnit). Ids live on the coalescing representative; Run
// copies them to every member before returning.
//
// There is no spilling: running out of registers fails with
// errdefs.ErrResourceExhausted.
package regalloc
