// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Command gpudis disassembles NVIDIA machine code produced by gpucc.
//
// Usage:
//
//	gpudis --chipset 0xc0 shader.bin
//
// Instructions are matched against the opcode tables of the target; words
// no table entry explains are printed as .word directives.
package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/gogpu/gpucc/ir"
	"github.com/gogpu/gpucc/target"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type disOptions struct {
	chipset string
	base    uint32
	raw     bool
}

func newRootCommand() *cobra.Command {
	var opts disOptions

	cmd := &cobra.Command{
		Use:           "gpudis [OPTIONS] FILE",
		Short:         "Disassemble NVIDIA machine code",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisassemble(cmd.OutOrStdout(), opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.chipset, "chipset", "0xc0", "Chipset the code was compiled for")
	flags.Uint32Var(&opts.base, "base", 0, "Address of the first instruction")
	flags.BoolVar(&opts.raw, "raw", false, "Print the instruction words")

	return cmd
}

func runDisassemble(w io.Writer, opts disOptions, path string) error {
	n, err := strconv.ParseUint(opts.chipset, 0, 32)
	if err != nil {
		return errors.Wrapf(err, "invalid chipset %q", opts.chipset)
	}
	targ, err := target.New(uint32(n))
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data)%4 != 0 {
		return errors.Errorf("%s: size %d is not a multiple of 4", path, len(data))
	}
	code := make([]uint32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, code); err != nil {
		return err
	}
	d := &disassembler{targ: targ, f: targ.Fields(), base: opts.base, raw: opts.raw}
	return d.run(w, code)
}

type disassembler struct {
	targ ir.Target
	f    *ir.EncodingFields
	base uint32
	raw  bool
}

func (d *disassembler) run(w io.Writer, code []uint32) error {
	for pos := 0; pos < len(code); {
		addr := d.base + uint32(4*pos)
		m, err := target.Decode(d.targ, code[pos:])
		switch {
		case errdefs.IsNotFound(err), errdefs.IsOutOfRange(err):
			fmt.Fprintf(w, "%08x: .word 0x%08x\n", addr, code[pos])
			pos++
			continue
		case err != nil:
			return errors.Wrapf(err, "at 0x%x", addr)
		}

		fmt.Fprintf(w, "%08x: ", addr)
		if d.raw {
			words := make([]string, 2)
			for k := range words {
				words[k] = "        "
				if k < len(m.Words) {
					words[k] = fmt.Sprintf("%08x", m.Words[k])
				}
			}
			fmt.Fprintf(w, "%s  ", strings.Join(words, " "))
		}
		fmt.Fprintln(w, d.format(m))
		pos += len(m.Words)
	}
	return nil
}

// field extracts width bits at pos of the instruction.
func field(m *target.Match, pos uint8, width int) uint32 {
	var c uint64
	for k, w := range m.Words {
		c |= uint64(w) << (32 * k)
	}
	return uint32(c>>pos) & (1<<width - 1)
}

func (d *disassembler) reg(m *target.Match, pos uint8) string {
	if pos == 0 {
		return ""
	}
	width := bits.Len32(d.f.Sink)
	r := field(m, pos, width)
	if r == d.f.Sink {
		return "_"
	}
	return fmt.Sprintf("$r%d", r)
}

func (d *disassembler) format(m *target.Match) string {
	var sb strings.Builder
	sb.WriteString(m.Op.String())
	if len(m.Types) == 1 {
		sb.WriteString("." + m.Types[0].String())
	}
	if len(m.Files) == 1 {
		sb.WriteString(" " + m.Files[0].String())
	}
	if m.Form != target.FormLong {
		sb.WriteString(" (" + m.Form.String() + ")")
	}

	var ops []string
	add := func(s string) {
		if s != "" {
			ops = append(ops, s)
		}
	}
	enc := m.Enc
	switch enc.Kind {
	case ir.EncFlow:
		if d.f.FlowLo != 0 {
			t := field(m, d.f.FlowLo, 16)<<2 | field(m, d.f.FlowHi, 6)<<18
			add(fmt.Sprintf("0x%x", t))
		}
	case ir.EncNop:
	case ir.EncStore, ir.EncExport:
		pos := enc.ValuePos
		if pos == 0 {
			pos = d.f.Dst
		}
		add(d.reg(m, pos))
	default:
		add(d.reg(m, d.f.Dst))
		for s := 0; s < 3; s++ {
			pos := enc.SrcPos[s]
			if pos == 0 {
				pos = d.f.Src[s]
			}
			if s > 0 && m.Form == target.FormImm {
				break
			}
			add(d.reg(m, pos))
		}
		if m.Form == target.FormImm {
			add(fmt.Sprintf("0x%x", d.immediate(m)))
		}
	}
	if len(ops) > 0 {
		sb.WriteString(" " + strings.Join(ops, ", "))
	}
	return sb.String()
}

func (d *disassembler) immediate(m *target.Match) uint32 {
	if m.Enc.ImmBits != 0 {
		return field(m, d.f.ImmLo, int(m.Enc.ImmBits))
	}
	lo := field(m, d.f.ImmLo, int(d.f.ImmLoBits))
	return lo | field(m, d.f.ImmHi, 32-int(d.f.ImmLoBits))<<d.f.ImmLoBits
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
