// Package diag renders debug heat-map images of a Space's top-level grid.
// It is purely observability tooling: the grid occupancy it draws is never
// consulted by the scheduler, and it must never be
// called from a Kernel callback or from BuildGraph/Run.
package diag

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	sph "github.com/gekko3d/gekko-sph"
)

// WriteOccupancyHeatmap renders the Space's top-level grid as a heat-map PNG
// (brighter cell = more particles) and writes it to path. The grid is drawn
// one pixel per top-level cell along its two longest axes, then upscaled to
// side pixels with Catmull-Rom interpolation so a coarse grid is still
// legible.
func WriteOccupancyHeatmap(sp *sph.Space, path string, side int) error {
	cdim := sp.Cdim
	w, h, pick := pickPlane(cdim)
	if w == 0 || h == 0 {
		return fmt.Errorf("diag: degenerate grid %v", cdim)
	}

	counts := sp.TopLevelOccupancy()
	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}

	small := image.NewGray(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			total := 0
			depth := cdim[pick]
			for z := 0; z < depth; z++ {
				idx := flattenByPlane(x, y, z, cdim, pick)
				total += counts[idx]
			}
			small.SetGray(x, y, grayLevel(total, maxCount))
		}
	}

	out := image.NewGray(image.Rect(0, 0, side, side))
	draw.CatmullRom.Scale(out, out.Bounds(), small, small.Bounds(), draw.Over, nil)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("diag: create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, out); err != nil {
		return fmt.Errorf("diag: encode %s: %w", path, err)
	}
	return nil
}

func grayLevel(count, max int) color.Gray {
	if max == 0 {
		return color.Gray{Y: 0}
	}
	v := float64(count) / float64(max) * 255
	if v > 255 {
		v = 255
	}
	return color.Gray{Y: uint8(v)}
}

// pickPlane chooses the two longest axes of cdim to draw and returns the
// remaining axis index, which gets summed over.
func pickPlane(cdim [3]int) (w, h, depthAxis int) {
	axes := [3]int{0, 1, 2}
	longest := func(skip int) (int, int) {
		best, bestLen := -1, -1
		for _, a := range axes {
			if a == skip {
				continue
			}
			if cdim[a] > bestLen {
				best, bestLen = a, cdim[a]
			}
		}
		return best, bestLen
	}
	// drop the shortest axis
	shortest := 0
	for _, a := range axes {
		if cdim[a] < cdim[shortest] {
			shortest = a
		}
	}
	wAxis, _ := longest(shortest)
	hAxis := 3 - shortest - wAxis // the remaining one of {0,1,2}
	// flattenByPlane maps x to the lower-numbered drawn axis and y to the
	// higher one, so w and h follow that order.
	if wAxis > hAxis {
		wAxis, hAxis = hAxis, wAxis
	}
	return cdim[wAxis], cdim[hAxis], shortest
}

func flattenByPlane(x, y, z int, cdim [3]int, depthAxis int) int {
	loc := [3]int{}
	axes := [3]int{0, 1, 2}
	wAxis, hAxis := -1, -1
	for _, a := range axes {
		if a == depthAxis {
			continue
		}
		if wAxis == -1 {
			wAxis = a
		} else {
			hAxis = a
		}
	}
	loc[wAxis] = x
	loc[hAxis] = y
	loc[depthAxis] = z
	return (loc[0]*cdim[1]+loc[1])*cdim[2] + loc[2]
}
