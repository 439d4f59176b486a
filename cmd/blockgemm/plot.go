// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"strconv"

	"github.com/gomlx/blockgemm/pkg/gemm/launch"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// plotSweep saves the elapsed time of each valid reduction chunk of the sweep to path.
func plotSweep(p launch.Problem, results []sweepResult, path string) error {
	var points plotter.XYs
	labels := make([]string, 0, len(results))
	for _, r := range results {
		if r.elapsed <= 0 {
			continue
		}
		points = append(points, plotter.XY{X: float64(r.chunk), Y: float64(r.elapsed.Microseconds())})
		labels = append(labels, strconv.Itoa(r.chunk))
	}
	if len(points) == 0 {
		return errors.Errorf("no valid reduction chunk to plot to %q", path)
	}

	pl := plot.New()
	pl.Title.Text = "Reduction chunk sweep: " + p.String()
	pl.X.Label.Text = "reduction chunk"
	pl.Y.Label.Text = "elapsed (µs)"
	pl.Y.Min = 0
	pl.Add(plotter.NewGrid())

	line, scatter, err := plotter.NewLinePoints(points)
	if err != nil {
		return errors.Wrap(err, "building sweep plot")
	}
	pl.Add(line, scatter)
	pointLabels, err := plotter.NewLabels(plotter.XYLabels{XYs: points, Labels: labels})
	if err != nil {
		return errors.Wrap(err, "labeling sweep plot")
	}
	pl.Add(pointLabels)

	if err := pl.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving sweep plot to %q", path)
	}
	return nil
}
