// Package labelmap provides integer label matrices for instance
// segmentation: connected-component labeling, union-find merging of
// touching labels, small-island removal and overlap-based label
// propagation. Values are stored row-major; zero means background.
package labelmap

import (
	"fmt"
	"image"
)

// Map is a 2D integer label matrix. Each nonzero value names one
// connected object; zero is background.
type Map struct {
	Width  int
	Height int
	Pix    []int32 // row-major, len == Width*Height
}

// New creates an all-background label map.
func New(width, height int) *Map {
	return &Map{
		Width:  width,
		Height: height,
		Pix:    make([]int32, width*height),
	}
}

// FromPix wraps an existing row-major label buffer. The buffer is not
// copied.
func FromPix(pix []int32, width, height int) (*Map, error) {
	if len(pix) != width*height {
		return nil, fmt.Errorf("label buffer length %d does not match %dx%d", len(pix), width, height)
	}
	return &Map{Width: width, Height: height, Pix: pix}, nil
}

// At returns the label at (x, y).
func (m *Map) At(x, y int) int32 {
	return m.Pix[y*m.Width+x]
}

// Set stores a label at (x, y).
func (m *Map) Set(x, y int, v int32) {
	m.Pix[y*m.Width+x] = v
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	out := New(m.Width, m.Height)
	copy(out.Pix, m.Pix)
	return out
}

// MaxLabel returns the largest label value present.
func (m *Map) MaxLabel() int32 {
	var max int32
	for _, v := range m.Pix {
		if v > max {
			max = v
		}
	}
	return max
}

// ForegroundCount returns the number of nonzero pixels.
func (m *Map) ForegroundCount() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Region describes one labeled object.
type Region struct {
	Label    int32
	Area     int             // pixel count
	Centroid image.Point     // truncated pixel coordinates
	CX, CY   float64         // exact centroid
	Bounds   image.Rectangle // tight bounding box
}

// Regions computes per-label area, centroid and bounding box. Results
// are ordered by ascending label. Labels need not be contiguous.
func (m *Map) Regions() []Region {
	max := int(m.MaxLabel())
	if max == 0 {
		return nil
	}
	area := make([]int, max+1)
	sumX := make([]float64, max+1)
	sumY := make([]float64, max+1)
	bounds := make([]image.Rectangle, max+1)

	i := 0
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := m.Pix[i]
			i++
			if v == 0 {
				continue
			}
			l := int(v)
			if area[l] == 0 {
				bounds[l] = image.Rect(x, y, x+1, y+1)
			} else {
				bounds[l] = bounds[l].Union(image.Rect(x, y, x+1, y+1))
			}
			area[l]++
			sumX[l] += float64(x)
			sumY[l] += float64(y)
		}
	}

	var regions []Region
	for l := 1; l <= max; l++ {
		if area[l] == 0 {
			continue
		}
		cx := sumX[l] / float64(area[l])
		cy := sumY[l] / float64(area[l])
		regions = append(regions, Region{
			Label:    int32(l),
			Area:     area[l],
			Centroid: image.Pt(int(cx), int(cy)),
			CX:       cx,
			CY:       cy,
			Bounds:   bounds[l],
		})
	}
	return regions
}

// Relabel rewrites labels to consecutive integers starting at 1,
// ordered by first appearance in row-major scan. Returns the number of
// labels after compaction.
func (m *Map) Relabel() int {
	next := int32(1)
	remap := make(map[int32]int32)
	for i, v := range m.Pix {
		if v == 0 {
			continue
		}
		nv, ok := remap[v]
		if !ok {
			nv = next
			remap[v] = nv
			next++
		}
		m.Pix[i] = nv
	}
	return int(next - 1)
}

// MergeTouching unions every pair of 8-connected pixels that carry
// differing nonzero labels, so objects split across adjacent labels
// collapse into one. Labels are then compacted to 1..N. Returns N.
// The foreground pixel set is unchanged.
func (m *Map) MergeTouching() int {
	max := m.MaxLabel()
	if max == 0 {
		return 0
	}
	uf := newUnionFind(int(max) + 1)

	w, h := m.Width, m.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := m.Pix[y*w+x]
			if v == 0 {
				continue
			}
			// Forward half of the 8-neighborhood is enough: every
			// adjacent pair is visited once.
			if x+1 < w {
				m.unionIfDiffers(uf, v, x+1, y)
			}
			if y+1 < h {
				m.unionIfDiffers(uf, v, x, y+1)
				if x+1 < w {
					m.unionIfDiffers(uf, v, x+1, y+1)
				}
				if x-1 >= 0 {
					m.unionIfDiffers(uf, v, x-1, y+1)
				}
			}
		}
	}

	for i, v := range m.Pix {
		if v != 0 {
			m.Pix[i] = int32(uf.find(int(v)))
		}
	}
	return m.Relabel()
}

func (m *Map) unionIfDiffers(uf *unionFind, v int32, nx, ny int) {
	n := m.Pix[ny*m.Width+nx]
	if n != 0 && n != v {
		uf.union(int(v), int(n))
	}
}

// RemoveSmall zeroes every label whose pixel count is below minArea,
// then compacts the survivors to 1..N. Returns N.
func (m *Map) RemoveSmall(minArea int) int {
	max := int(m.MaxLabel())
	if max == 0 {
		return 0
	}
	area := make([]int, max+1)
	for _, v := range m.Pix {
		if v != 0 {
			area[v]++
		}
	}
	for i, v := range m.Pix {
		if v != 0 && area[v] < minArea {
			m.Pix[i] = 0
		}
	}
	return m.Relabel()
}

// neighbor offsets for 8-connectivity
var offsets8 = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// LabelMask performs 8-connected component labeling of a binary mask
// (nonzero = foreground). Components are numbered 1..N in row-major
// order of their first pixel.
func LabelMask(mask []uint8, width, height int) (*Map, error) {
	if len(mask) != width*height {
		return nil, fmt.Errorf("mask length %d does not match %dx%d", len(mask), width, height)
	}
	m := New(width, height)
	next := int32(1)
	var stack []int

	for i := range mask {
		if mask[i] == 0 || m.Pix[i] != 0 {
			continue
		}
		label := next
		next++
		m.Pix[i] = label
		stack = append(stack[:0], i)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			px, py := p%width, p/width
			for _, off := range offsets8 {
				nx, ny := px+off[0], py+off[1]
				if nx < 0 || ny < 0 || nx >= width || ny >= height {
					continue
				}
				n := ny*width + nx
				if mask[n] != 0 && m.Pix[n] == 0 {
					m.Pix[n] = label
					stack = append(stack, n)
				}
			}
		}
	}
	return m, nil
}

// PropagateByOverlap assigns, to each component of comps, the first
// nonzero label of ref found under the component's pixels in row-major
// order. Components with no overlap are left at zero in the result.
// Ties (components overlapping several ref labels) go to the label seen
// first, matching array scan order.
func PropagateByOverlap(comps, ref *Map) (*Map, error) {
	if comps.Width != ref.Width || comps.Height != ref.Height {
		return nil, fmt.Errorf("shape mismatch: %dx%d vs %dx%d",
			comps.Width, comps.Height, ref.Width, ref.Height)
	}
	assigned := make(map[int32]int32)
	for i, c := range comps.Pix {
		if c == 0 {
			continue
		}
		if _, done := assigned[c]; done {
			continue
		}
		if r := ref.Pix[i]; r != 0 {
			assigned[c] = r
		}
	}
	out := New(comps.Width, comps.Height)
	for i, c := range comps.Pix {
		if c == 0 {
			continue
		}
		out.Pix[i] = assigned[c] // zero when unassigned
	}
	return out, nil
}

// unionFind is a disjoint-set forest with path compression and union
// by rank, used to merge equivalence classes of touching labels.
type unionFind struct {
	parent []int
	rank   []uint8
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]uint8, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}
