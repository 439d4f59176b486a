// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// blockgemm inspects and exercises a blocked batched GEMM tiling configuration.
//
// The configuration is given with -config (or the BLOCKGEMM_CONFIG environment variable) in the
// format accepted by tiling.Parse. Example:
//
//	blockgemm -config="block=64,batch=4,tile=8x16x16,thread=4x4,sub=2x2,level0=2x2,level1=2x2,chunk=4" \
//		-summary -tiles -verify -sweep=1,2,4,8
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/blockgemm/pkg/gemm/tiling"
	"github.com/gomlx/blockgemm/pkg/support/xslices"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

// DefaultConfig is used if neither -config nor BLOCKGEMM_CONFIG are set.
const DefaultConfig = "block=64,batch=4,tile=8x16x16,thread=4x4,sub=2x2,level0=2x2,level1=2x2,chunk=4"

var (
	flagConfig = flag.String("config", "",
		fmt.Sprintf("Tiling configuration, see tiling.Parse. If empty, it is read from $%s, and if that is "+
			"also empty it defaults to %q.", tiling.ConfigEnv, DefaultConfig))

	flagSummary = flag.Bool("summary", false, "Display a summary of the configuration and its memory footprint.")
	flagTiles   = flag.Bool("tiles", false, "Display which unit owns each element of the block-level output tile, "+
		"and check that every element is owned by exactly one unit.")
	flagVerify = flag.Bool("verify", false, "Run a batched matrix multiplication with the configuration and "+
		"compare the result with a triple loop and with gonum.")

	flagBatches = flag.Int("batches", 0, "Batch size of the problem used by -verify and -sweep. "+
		"If 0, twice the block batch size.")
	flagM = flag.Int("m", 0, "Rows of the problem used by -verify and -sweep. If 0, twice the block tile rows.")
	flagN = flag.Int("n", 0, "Columns of the problem used by -verify and -sweep. If 0, twice the block tile columns.")
	flagK = flag.Int("k", 0, "Reduction dimension of the problem used by -verify and -sweep. "+
		"If 0, twice the block tile reduction dimension.")

	flagSweep = xslices.Flag("sweep", nil, "Comma-separated list of reduction chunk sizes: runs the "+
		"problem with each of them and checks that results are identical.", strconv.Atoi)

	flagSweepPlot = flag.String("sweep_plot", "", "If set, -sweep also plots the elapsed time per reduction chunk "+
		"to this file. The format is taken from the extension (.png, .svg, .pdf).")

	flagSeed = flag.Uint64("seed", 42, "Seed of the random operands used by -verify and -sweep.")

	flagNoColor = flag.Bool("nocolor", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	config := configString()
	cfg, err := tiling.Parse(config)
	if err != nil {
		klog.Errorf("Invalid configuration %q: %+v", config, err)
		os.Exit(1)
	}
	if !*flagSummary && !*flagTiles && !*flagVerify && len(*flagSweep) == 0 {
		*flagSummary = true
	}

	if *flagSummary {
		summary(cfg)
	}
	if *flagTiles {
		if err := tiles(cfg); err != nil {
			klog.Errorf("Tiling check failed: %+v", err)
			os.Exit(1)
		}
	}
	if *flagVerify || len(*flagSweep) > 0 {
		p, err := problemFromFlags(cfg)
		if err != nil {
			klog.Errorf("Invalid problem: %+v", err)
			os.Exit(1)
		}
		if *flagVerify {
			if err := verify(cfg, p); err != nil {
				klog.Errorf("Verification failed: %+v", err)
				os.Exit(1)
			}
		}
		if len(*flagSweep) > 0 {
			if err := sweep(cfg, p, *flagSweep, *flagSweepPlot); err != nil {
				klog.Errorf("Sweep failed: %+v", err)
				os.Exit(1)
			}
		}
	}
}

// configString returns the configuration from the flag, the environment or the default, in this order.
func configString() string {
	if *flagConfig != "" {
		return *flagConfig
	}
	if config := os.Getenv(tiling.ConfigEnv); config != "" {
		return config
	}
	return DefaultConfig
}
