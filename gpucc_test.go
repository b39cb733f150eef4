// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucc

import (
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/gogpu/gpucc/ir"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

const loopProgram = `program compute chipset 0xc0
func main
bb 0 -> 1
  %0:u32 = ld.u32 c0[0x0]
  %1:u32 = ld.u32 c0[0x4]
  bra bb1
bb 1 -> 1 2
  %2:u32 = phi %0 %3
  %3:u32 = add.u32 %2 %1
  %4:pred = set.u8.u32.lt %3 0x10:u32
  @%4 bra bb1
bb 2
  st.u32 g0[0x0] %3
  exit
`

const divProgram = `program vertex chipset 0xc0
func main
bb 0
  %0:u32 = ld.u32 c0[0x0]
  %1:u32 = ld.u32 c0[0x4]
  %2:u32 = div.u32 %0 %1
  export.u32 o[0x0]:u32 %2
  exit
`

func TestCompile_Loop(t *testing.T) {
	res, err := CompileString(loopProgram, DefaultOptions())
	assert.NilError(t, err)

	assert.Check(t, is.Equal(res.Size, 4*len(res.Code)))
	assert.Check(t, res.Size > 0)
	assert.Check(t, res.Size%8 == 0)
	assert.Check(t, res.MaxGPR >= 0)
	assert.Check(t, is.Equal(res.Relocs.Len(), 0))
	assert.Check(t, is.Equal(res.Instructions, res.Size/8))
	n := len(res.Code)
	assert.DeepEqual(t, res.Code[n-2:], []uint32{0x00001c07, 0x80000000})
}

func TestCompile_BuiltinCall(t *testing.T) {
	prog, err := ir.ParseString(divProgram)
	assert.NilError(t, err)
	res, err := Compile(prog, DefaultOptions())
	assert.NilError(t, err)

	assert.Assert(t, res.Relocs.Len() > 0)
	off := prog.Target.BuiltinOffset(ir.BuiltinDivU32)
	for _, e := range res.Relocs.Entries {
		assert.Check(t, is.Equal(e.Kind, ir.RelocBuiltin))
		assert.Check(t, is.Equal(e.Data, off))
	}
	// the arguments are pinned to the registers the routine reads
	assert.Check(t, res.MaxGPR >= 1)
}

func TestCompile_Stage(t *testing.T) {
	prog, err := ir.ParseString(loopProgram)
	assert.NilError(t, err)
	opts := DefaultOptions()
	opts.Stage = StageRegAlloc
	res, err := Compile(prog, opts)
	assert.NilError(t, err)

	assert.Check(t, is.Len(res.Code, 0))
	assert.Check(t, res.MaxGPR >= 0)
	// phis stay until post-RA legalization removes them
	assert.Check(t, is.Equal(prog.Main.Blocks()[1].First().Op, ir.OpPhi))
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		opts   CompileOptions
		check  func(error) bool
		result string
	}{
		{
			name:   "unsupported chipset",
			src:    loopProgram,
			opts:   CompileOptions{Chipset: 0x20},
			check:  errdefs.IsNotImplemented,
			result: "unsupported",
		},
		{
			name:   "code size",
			src:    loopProgram,
			opts:   CompileOptions{MaxCodeSize: 16},
			check:  errdefs.IsOutOfRange,
			result: "code_size",
		},
		{
			name: "ssa failure",
			src:  loopProgram,
			opts: CompileOptions{SSA: func(*ir.Program) error {
				return errdefs.ErrFailedPrecondition
			}},
			check:  errdefs.IsFailedPrecondition,
			result: "invalid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString(tt.src, tt.opts)
			assert.Assert(t, err != nil)
			assert.Check(t, tt.check(err), "unexpected error class: %v", err)
			assert.Check(t, is.Equal(result(err), tt.result))
		})
	}
}

func TestCompile_SSAHook(t *testing.T) {
	var seen []ir.Op
	opts := DefaultOptions()
	opts.SSA = func(prog *ir.Program) error {
		for i := prog.Main.Entry.First(); i != nil; i = i.Next() {
			seen = append(seen, i.Op)
		}
		return nil
	}
	_, err := CompileString(divProgram, opts)
	assert.NilError(t, err)
	// the division is already a call when the hook runs
	assert.Check(t, is.Contains(seen, ir.OpCall))
	assert.Check(t, !contains(seen, ir.OpDiv))
}

func contains(ops []ir.Op, op ir.Op) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func TestCompile_DebugDump(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	opts := DefaultOptions()
	opts.Logger = logger
	opts.Debug = ir.DebugFrontend | ir.DebugPostRA
	_, err := CompileString(loopProgram, opts)
	assert.NilError(t, err)

	var phases []string
	for _, e := range hook.AllEntries() {
		if p, ok := e.Data["phase"].(string); ok && e.Message != "" && e.Message[0] == '\n' {
			phases = append(phases, p)
		}
	}
	assert.DeepEqual(t, phases, []string{"frontend", "post-ra"})
}

func TestStageByName(t *testing.T) {
	for s := StageFrontend; s <= StageEmit; s++ {
		got, ok := StageByName(s.String())
		assert.Check(t, ok)
		assert.Check(t, is.Equal(got, s))
	}
	_, ok := StageByName("link")
	assert.Check(t, !ok)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	assert.NilError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return metricValue(m)
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	n := 0
	for _, lp := range m.GetLabel() {
		v, ok := labels[lp.GetName()]
		if !ok || v != lp.GetValue() {
			return false
		}
		n++
	}
	return n == len(labels)
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetHistogram() != nil:
		return float64(m.GetHistogram().GetSampleCount())
	}
	return 0
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	assert.NilError(t, err)

	opts := DefaultOptions()
	opts.Metrics = m
	res, err := CompileString(loopProgram, opts)
	assert.NilError(t, err)
	_, err = CompileString(loopProgram, CompileOptions{Chipset: 0x20, Metrics: m})
	assert.Check(t, errdefs.IsNotImplemented(err))

	assert.Check(t, is.Equal(counterValue(t, reg, "gpucc_compiles_total", map[string]string{"result": "ok"}), 1.0))
	assert.Check(t, is.Equal(counterValue(t, reg, "gpucc_compiles_total", map[string]string{"result": "unsupported"}), 1.0))
	assert.Check(t, is.Equal(counterValue(t, reg, "gpucc_code_bytes", nil), 1.0))
	assert.Check(t, is.Equal(counterValue(t, reg, "gpucc_instructions_emitted_total", nil), float64(res.Instructions)))
	assert.Check(t, is.Equal(counterValue(t, reg, "gpucc_max_gpr", map[string]string{"chipset": "0xc0"}), float64(res.MaxGPR)))

	// a second set of metrics cannot share the registry
	_, err = NewMetrics(reg)
	var are prometheus.AlreadyRegisteredError
	assert.Check(t, errors.As(err, &are))
}
