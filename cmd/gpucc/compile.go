// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/gogpu/gpucc"
	"github.com/gogpu/gpucc/ir"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// outputPath returns the file the binary of input is written to.
func (o *options) outputPath(input string) string {
	if o.output != "" {
		return o.output
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + ".bin"
	dir := o.cfg.OutputDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, base)
}

func runCompile(cmd *cobra.Command, o *options, inputs []string) error {
	if o.output != "" && len(inputs) > 1 {
		return errors.New("--output needs a single input, use --output-dir")
	}
	copts, err := o.cfg.compileOptions()
	if err != nil {
		return err
	}
	log := o.logger()

	var reg *prometheus.Registry
	if o.stats {
		reg = prometheus.NewRegistry()
		if copts.Metrics, err = gpucc.NewMetrics(reg); err != nil {
			return err
		}
	}
	if o.cfg.OutputDir != "" {
		if err := os.MkdirAll(o.cfg.OutputDir, 0o755); err != nil {
			return errors.Wrap(err, "creating output directory")
		}
	}

	results := make([]*gpucc.Result, len(inputs))
	g, ctx := errgroup.WithContext(context.Background())
	if o.cfg.Jobs > 0 {
		g.SetLimit(o.cfg.Jobs)
	}
	for k, input := range inputs {
		k, input := k, input
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := compileFile(input, o.outputPath(input), copts, log.WithField("file", input))
			if err != nil {
				return errors.Wrap(err, input)
			}
			results[k] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.cfg.Relocs {
		for k, res := range results {
			if res.Relocs.Len() == 0 {
				continue
			}
			fmt.Fprintf(out, "%s:\n", inputs[k])
			printRelocs(out, &res.Relocs)
		}
	}
	if reg != nil {
		return printStats(out, reg)
	}
	return nil
}

func compileFile(input, output string, opts gpucc.CompileOptions, log logrus.FieldLogger) (*gpucc.Result, error) {
	src, err := os.ReadFile(input)
	if err != nil {
		return nil, err
	}
	opts.Logger = log
	res, err := gpucc.CompileString(string(src), opts)
	if err != nil {
		return nil, err
	}
	if opts.Stage != 0 && opts.Stage < gpucc.StageEmit {
		return res, nil
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, res.Code); err != nil {
		return nil, err
	}
	if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
		return nil, errors.Wrap(err, "writing output")
	}
	log.WithFields(logrus.Fields{
		"output": output,
		"size":   res.Size,
		"maxgpr": res.MaxGPR,
		"relocs": res.Relocs.Len(),
	}).Info("compiled")
	return res, nil
}

func printRelocs(w io.Writer, t *ir.RelocationTable) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "  OFFSET\tKIND\tDATA\tMASK\tSHIFT")
	for _, e := range t.Entries {
		fmt.Fprintf(tw, "  0x%04x\t%s\t0x%x\t0x%08x\t%d\n", e.Offset, e.Kind, e.Data, e.Mask, e.Bit)
	}
	tw.Flush()
}
