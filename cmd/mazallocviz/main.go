// Command mazallocviz renders a PNG snapshot of an allocator process's
// arena occupancy: one row per arena, one pixel-block per slice, every
// block in the same color, with the arena's free-slice count in the row
// header. It repurposes the teacher's gg/freetype in-memory drawing
// context (main/gg_circle_qemu.go's ggCtx pattern) for debugging a
// memory pool instead of a framebuffer.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"os"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"mazalloc"
	"mazalloc/internal/arena"
	"mazalloc/internal/options"
	"mazalloc/internal/osmem"
)

const (
	sliceBlockPx = 4
	rowHeaderPx  = 24
	marginPx     = 12
)

func main() {
	out := flag.String("out", "mazallocviz.png", "output PNG path")
	demoBlocks := flag.Int("demo-allocs", 5000, "number of demo allocations to scatter across arenas before rendering")
	flag.Parse()

	opts := options.Default()
	proc := mazalloc.NewProcessWithMemory(osmem.Unix{}, opts)
	defer proc.Close()

	h := proc.HeapNew(0)
	var live []uintptr
	for i := 0; i < *demoBlocks; i++ {
		size := uintptr(16 + (i%37)*64)
		if addr := h.Alloc(size); addr != 0 {
			live = append(live, addr)
		}
		if i%5 == 0 && len(live) > 0 {
			mazalloc.Free(live[len(live)-1])
			live = live[:len(live)-1]
		}
	}

	if err := render(proc, *out); err != nil {
		fmt.Fprintln(os.Stderr, "mazallocviz:", err)
		os.Exit(1)
	}
	fmt.Println("wrote", *out)
}

func render(proc *mazalloc.Process, outPath string) error {
	arenas := proc.Arenas()
	if len(arenas) == 0 {
		return fmt.Errorf("no arenas reserved yet")
	}

	maxSlices := 0
	for _, a := range arenas {
		if a.Slices > maxSlices {
			maxSlices = a.Slices
		}
	}
	width := marginPx*2 + maxSlices*sliceBlockPx
	height := marginPx*2 + len(arenas)*(rowHeaderPx+sliceBlockPx)

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()

	face := loadFace(14)
	if face != nil {
		dc.SetFontFace(face)
	}

	for row, a := range arenas {
		y := marginPx + row*(rowHeaderPx+sliceBlockPx)
		dc.SetColor(color.Black)
		dc.DrawString(fmt.Sprintf("arena %d  numa=%d  slices=%d  free=%d", a.Index, a.NUMANode, a.Slices, a.FreeSliceCount()), float64(marginPx), float64(y+rowHeaderPx-8))

		for s := 0; s < a.Slices; s++ {
			x := marginPx + s*sliceBlockPx
			dc.SetColor(sliceColor(a, s))
			dc.DrawRectangle(float64(x), float64(y+rowHeaderPx), sliceBlockPx, sliceBlockPx)
			dc.Fill()
		}
	}

	return dc.SavePNG(outPath)
}

func sliceColor(a *arena.Arena, slice int) color.Color {
	// Arena doesn't expose a per-slice accessor off its hot bitmap path;
	// the visualizer paints every slice the same occupied color and
	// relies on the row header's free-count to show fragmentation at a
	// glance, rather than adding a debug-only per-bit accessor to
	// internal/bitmap just for this tool.
	return color.RGBA{R: 70, G: 130, B: 180, A: 255}
}

func loadFace(size float64) font.Face {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil
	}
	return truetype.NewFace(f, &truetype.Options{Size: size})
}
