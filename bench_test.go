// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucc

import (
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/gogpu/gpucc/emit"
	"github.com/gogpu/gpucc/ir"
	"github.com/gogpu/gpucc/lower"
	"github.com/gogpu/gpucc/regalloc"
	"github.com/gogpu/gpucc/target"
)

// ---------------------------------------------------------------------------
// Benchmark programs at different sizes
// ---------------------------------------------------------------------------

// chainProgram builds a compute program summing n constants in a chain.
func chainProgram(n int) string {
	var sb strings.Builder
	sb.WriteString("program compute chipset 0xc0\nfunc main\nbb 0\n")
	sb.WriteString("  %0:u32 = ld.u32 c0[0x0]\n")
	for j := 1; j <= n; j++ {
		fmt.Fprintf(&sb, "  %%%d:u32 = ld.u32 c0[0x%x]\n", 2*j-1, 4*j)
		fmt.Fprintf(&sb, "  %%%d:u32 = add.u32 %%%d %%%d\n", 2*j, 2*j-2, 2*j-1)
	}
	fmt.Fprintf(&sb, "  st.u32 g0[0x0] %%%d\n", 2*n)
	sb.WriteString("  exit\n")
	return sb.String()
}

// wideProgram builds a compute program keeping n loads live at once.
func wideProgram(n int) string {
	var sb strings.Builder
	sb.WriteString("program compute chipset 0xc0\nfunc main\nbb 0\n")
	for j := 0; j < n; j++ {
		fmt.Fprintf(&sb, "  %%%d:u32 = ld.u32 c0[0x%x]\n", j, 4*j)
	}
	for j := 0; j < n; j++ {
		fmt.Fprintf(&sb, "  st.u32 g0[0x%x] %%%d\n", 4*j, j)
	}
	sb.WriteString("  exit\n")
	return sb.String()
}

var benchPrograms = []struct {
	name   string
	source string
}{
	{"SmallChain", chainProgram(8)},
	{"LargeChain", chainProgram(256)},
	{"Wide", wideProgram(48)},
	{"Loop", loopProgram},
	{"BuiltinCall", divProgram},
}

// ---------------------------------------------------------------------------
// Full pipeline
// ---------------------------------------------------------------------------

// BenchmarkCompile benchmarks the whole pipeline from the text form.
func BenchmarkCompile(b *testing.B) {
	for _, sc := range benchPrograms {
		b.Run(sc.name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(sc.source)))
			b.ResetTimer()

			var res *Result
			for i := 0; i < b.N; i++ {
				var err error
				res, err = CompileString(sc.source, DefaultOptions())
				if err != nil {
					b.Fatalf("compile failed: %v", err)
				}
			}
			runtime.KeepAlive(res)
		})
	}
}

// BenchmarkCompileWithoutValidation skips the input checks.
func BenchmarkCompileWithoutValidation(b *testing.B) {
	opts := DefaultOptions()
	opts.Validate = false
	for _, sc := range benchPrograms {
		b.Run(sc.name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(sc.source)))
			b.ResetTimer()

			var res *Result
			for i := 0; i < b.N; i++ {
				var err error
				res, err = CompileString(sc.source, opts)
				if err != nil {
					b.Fatalf("compile failed: %v", err)
				}
			}
			runtime.KeepAlive(res)
		})
	}
}

// ---------------------------------------------------------------------------
// Individual stages
// ---------------------------------------------------------------------------

// BenchmarkStages times each stage on a fresh copy of the large program.
func BenchmarkStages(b *testing.B) {
	src := chainProgram(256)
	prepare := func(b *testing.B, upto Stage) *ir.Program {
		b.Helper()
		prog, err := ir.ParseString(src)
		if err != nil {
			b.Fatal(err)
		}
		prog.Target, err = target.New(prog.Chipset)
		if err != nil {
			b.Fatal(err)
		}
		steps := []func(*ir.Program) error{lower.PreSSA, lower.SSA, regalloc.Run, lower.PostRA}
		for s := StagePreSSA; s <= upto; s++ {
			if err := steps[s-StagePreSSA](prog); err != nil {
				b.Fatal(err)
			}
		}
		return prog
	}
	run := func(name string, prev Stage, stage func(*ir.Program) error) {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				prog := prepare(b, prev)
				b.StartTimer()
				if err := stage(prog); err != nil {
					b.Fatal(err)
				}
			}
		})
	}

	run("PreSSA", StageFrontend, lower.PreSSA)
	run("SSA", StagePreSSA, lower.SSA)
	run("RegAlloc", StageSSA, regalloc.Run)
	run("PostRA", StageRegAlloc, lower.PostRA)
	run("Emit", StagePostRA, emit.Emit)
}
