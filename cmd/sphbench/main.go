// Command sphbench drives the sph engine over a synthetic particle cloud:
// build, rebuild, generate a task graph, and run it once with the
// reference neighbour-counting kernel. It exists to exercise the engine
// headlessly: no window, no GPU.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	sph "github.com/gekko3d/gekko-sph"
	"github.com/gekko3d/gekko-sph/internal/diag"
	"github.com/gekko3d/gekko-sph/kernel"
)

func main() {
	n := flag.Int("n", 20000, "number of particles")
	dim := flag.Float64("dim", 1.0, "cubic domain side length")
	h := flag.Float64("h", 0.02, "particle smoothing length")
	cellMax := flag.Float64("cell-max", 0.1, "top-level cell size cap")
	periodic := flag.Bool("periodic", true, "periodic boundary")
	workers := flag.Int("workers", 0, "worker count (0 = GOMAXPROCS)")
	seed := flag.Int64("seed", 1, "particle placement RNG seed")
	debug := flag.Bool("debug", false, "enable debug logging")
	heatmap := flag.String("heatmap", "", "write a top-level occupancy heat-map PNG to this path")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	parts := make([]sph.Particle, *n)
	for i := range parts {
		parts[i] = sph.Particle{
			X: [3]float64{rng.Float64() * *dim, rng.Float64() * *dim, rng.Float64() * *dim},
			H: float32(*h),
		}
	}

	opts := []sph.Option{sph.WithPeriodic(*periodic)}
	if *workers > 0 {
		opts = append(opts, sph.WithWorkers(*workers))
	}

	sp, err := sph.NewSpace([3]float64{*dim, *dim, *dim}, parts, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sphbench: new space:", err)
		os.Exit(1)
	}
	if *debug {
		logger := sph.NewDefaultLogger("sphbench", true)
		sp.SetLogger(logger)
	}

	start := time.Now()
	if _, err := sp.Rebuild(true, *cellMax); err != nil {
		fmt.Fprintln(os.Stderr, "sphbench: rebuild:", err)
		os.Exit(1)
	}
	rebuildDur := time.Since(start)

	start = time.Now()
	if err := sp.BuildGraph(); err != nil {
		fmt.Fprintln(os.Stderr, "sphbench: build graph:", err)
		os.Exit(1)
	}
	graphDur := time.Since(start)

	k := kernel.NewNeighbourCount(*n)
	start = time.Now()
	if err := sph.Run(context.Background(), sp, k); err != nil {
		fmt.Fprintln(os.Stderr, "sphbench: run:", err)
		os.Exit(1)
	}
	runDur := time.Since(start)

	stats := sp.Stats()
	fmt.Printf("particles=%d cells=%d top_level=%d live_cells=%d tasks=%d ghosts=%d max_depth=%d\n",
		*n, stats.NumCells, stats.NumTopLevelCells, stats.NumLiveCells, stats.NumTasks, stats.NumGhosts, stats.MaxDepth)
	fmt.Printf("rebuild=%s build_graph=%s run=%s\n", rebuildDur, graphDur, runDur)

	if *heatmap != "" {
		if err := diag.WriteOccupancyHeatmap(sp, *heatmap, 512); err != nil {
			fmt.Fprintln(os.Stderr, "sphbench: heatmap:", err)
			os.Exit(1)
		}
	}
}
