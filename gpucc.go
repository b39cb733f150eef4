// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package gpucc compiles shader programs to machine code for NVIDIA GPUs of
// the Tesla (NV50) and Fermi (NVC0) families.
//
// The input is a program in the ir package's representation, built in Go or
// read from its text form. Compilation runs the backend pipeline:
//  1. pre-SSA lowering of operations the target lacks
//  2. SSA construction and optimization, supplied by the caller
//  3. SSA-stage lowering
//  4. register allocation
//  5. post-RA legalization
//  6. code emission
//
// Example usage:
//
//	res, err := gpucc.CompileString(src, gpucc.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// res.Code holds the binary, res.Relocs the fixups applied at upload
//
// Errors are classified with the containerd errdefs sentinels. An
// unsupported chipset or operation is errdefs.ErrNotImplemented, running
// out of registers is errdefs.ErrResourceExhausted and a binary larger than
// CompileOptions.MaxCodeSize is errdefs.ErrOutOfRange.
package gpucc

import (
	"github.com/containerd/errdefs"
	"github.com/gogpu/gpucc/emit"
	"github.com/gogpu/gpucc/ir"
	"github.com/gogpu/gpucc/lower"
	"github.com/gogpu/gpucc/regalloc"
	"github.com/gogpu/gpucc/target"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Stage is a step of the compilation pipeline.
type Stage uint8

// Pipeline stages in execution order.
const (
	StageFrontend Stage = iota + 1
	StagePreSSA
	StageSSA
	StageRegAlloc
	StagePostRA
	StageEmit
)

var stageNames = map[Stage]string{
	StageFrontend: "frontend",
	StagePreSSA:   "pre-ssa",
	StageSSA:      "ssa",
	StageRegAlloc: "regalloc",
	StagePostRA:   "post-ra",
	StageEmit:     "emit",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "unknown"
}

// DebugFlag returns the ir.Debug* bit dumping the IR after s, or 0 if the
// stage has none.
func (s Stage) DebugFlag() uint32 {
	switch s {
	case StageFrontend:
		return ir.DebugFrontend
	case StagePreSSA:
		return ir.DebugPreSSA
	case StageSSA:
		return ir.DebugSSA
	case StageRegAlloc:
		return ir.DebugRegAlloc
	case StagePostRA:
		return ir.DebugPostRA
	}
	return 0
}

// StageByName looks up a stage by its name.
func StageByName(name string) (Stage, bool) {
	for s, n := range stageNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// CompileOptions configures compilation.
type CompileOptions struct {
	// Chipset selects the target. Zero keeps the target attached to the
	// program, or the chipset named by its text form.
	Chipset uint32

	// Stage is the last stage to run. Zero runs the whole pipeline.
	Stage Stage

	// Debug enables IR dumps after the stages selected by the ir.Debug*
	// bits. Dumps are logged at debug level.
	Debug uint32

	// Validate checks the structural invariants of the input program.
	Validate bool

	// SSA runs between pre-SSA and SSA-stage lowering. It is where SSA
	// construction and optimizations hook in.
	SSA func(*ir.Program) error

	// MaxCodeSize bounds the size of the binary in bytes. Zero means no
	// bound.
	MaxCodeSize int

	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// DefaultOptions returns sensible default options.
func DefaultOptions() CompileOptions {
	return CompileOptions{
		Stage:    StageEmit,
		Validate: true,
	}
}

// Result is a compiled program.
type Result struct {
	Code []uint32
	// Size is the size of Code in bytes.
	Size int
	// MaxGPR is the highest general purpose register index used, -1 if
	// none is.
	MaxGPR int
	Relocs ir.RelocationTable

	// Instructions is the number of machine instructions in Code.
	Instructions int
}

// CompileString reads a program in the IR text form and compiles it.
func CompileString(src string, opts CompileOptions) (*Result, error) {
	prog, err := ir.ParseString(src)
	if err != nil {
		return nil, errors.Wrap(err, "parse error")
	}
	return Compile(prog, opts)
}

// Compile runs the backend pipeline on prog. The program is modified in
// place; on success it holds the binary as well.
func Compile(prog *ir.Program, opts CompileOptions) (*Result, error) {
	res, err := compile(prog, opts)
	chipset := opts.Chipset
	if prog.Target != nil {
		chipset = prog.Target.Chipset()
	}
	opts.Metrics.observe(chipset, res, err)
	return res, err
}

func compile(prog *ir.Program, opts CompileOptions) (*Result, error) {
	if opts.Logger != nil {
		prog.Log = opts.Logger
	}
	if prog.Log == nil {
		prog.Log = logrus.StandardLogger()
	}
	prog.Debug |= opts.Debug
	last := opts.Stage
	if last == 0 {
		last = StageEmit
	}

	switch {
	case opts.Chipset != 0:
		targ, err := target.New(opts.Chipset)
		if err != nil {
			return nil, err
		}
		prog.Target = targ
	case prog.Target == nil:
		targ, err := target.New(prog.Chipset)
		if err != nil {
			return nil, err
		}
		prog.Target = targ
	}
	log := prog.Log.WithField("chipset", prog.Target.Chipset())

	dump(prog, StageFrontend)
	if opts.Validate {
		verrs, err := ir.Validate(prog)
		if err != nil {
			return nil, errors.Wrap(err, "validation error")
		}
		if len(verrs) > 0 {
			return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "validation failed: %s", &verrs[0])
		}
	}

	stages := []struct {
		stage Stage
		run   func(*ir.Program) error
	}{
		{StagePreSSA, lower.PreSSA},
		{StageSSA, func(p *ir.Program) error {
			if opts.SSA != nil {
				if err := opts.SSA(p); err != nil {
					return errors.Wrap(err, "SSA construction")
				}
			}
			return lower.SSA(p)
		}},
		{StageRegAlloc, regalloc.Run},
		{StagePostRA, lower.PostRA},
	}
	for _, s := range stages {
		if s.stage > last {
			break
		}
		if err := s.run(prog); err != nil {
			return nil, err
		}
		// the allocator dumps its own state
		if s.stage != StageRegAlloc {
			dump(prog, s.stage)
		}
	}

	res := &Result{MaxGPR: prog.MaxGPR}
	if last < StageEmit {
		log.WithField("stage", last).Debug("compilation stopped early")
		return res, nil
	}

	e := &emit.Emitter{MaxCodeSize: opts.MaxCodeSize, Logger: prog.Log}
	if err := e.Emit(prog); err != nil {
		return nil, err
	}
	res.Code = prog.Code
	res.Size = prog.BinSize
	res.Relocs = prog.Relocs
	res.Instructions = e.Instructions

	log.WithFields(logrus.Fields{
		"size":   res.Size,
		"maxgpr": res.MaxGPR,
	}).Debug("program compiled")
	return res, nil
}

// dump logs the IR after a stage when its debug bit is set.
func dump(prog *ir.Program, s Stage) {
	if bit := s.DebugFlag(); bit == 0 || prog.Debug&bit == 0 {
		return
	}
	prog.Log.WithField("phase", s.String()).Debug("\n" + prog.String())
}
