// Package geom implements the integer pixel-space geometry used throughout
// the surface/view/output graph: points, rectangles and the small set of
// region operations (union, clamp, intersect) that the commit protocol
// needs. Surface-local coordinates are always integer pixels (§3 of the
// spec), so this is deliberately not gio's f32 package.
package geom

// Point is an integer pixel position.
type Point struct {
	X, Y int32
}

func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Size is a width/height pair, always clamped to >= 1x1 by callers that
// represent surface or view geometry (§3 invariant).
type Size struct {
	W, H int32
}

// Rect is a half-open rectangle: [Min, Max).
type Rect struct {
	Min, Max Point
}

// RectWH builds a rectangle from an origin and a size.
func RectWH(x, y, w, h int32) Rect {
	return Rect{Point{x, y}, Point{x + w, y + h}}
}

func (r Rect) Dx() int32 { return r.Max.X - r.Min.X }
func (r Rect) Dy() int32 { return r.Max.Y - r.Min.Y }

func (r Rect) Size() Size { return Size{r.Dx(), r.Dy()} }

func (r Rect) Empty() bool { return r.Min.X >= r.Max.X || r.Min.Y >= r.Max.Y }

// Contains reports whether p lies within r.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Min.X && p.X < r.Max.X && p.Y >= r.Min.Y && p.Y < r.Max.Y
}

// Intersect returns the overlap of r and s, which may be empty.
func (r Rect) Intersect(s Rect) Rect {
	out := r
	if s.Min.X > out.Min.X {
		out.Min.X = s.Min.X
	}
	if s.Min.Y > out.Min.Y {
		out.Min.Y = s.Min.Y
	}
	if s.Max.X < out.Max.X {
		out.Max.X = s.Max.X
	}
	if s.Max.Y < out.Max.Y {
		out.Max.Y = s.Max.Y
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

// Union returns the smallest rectangle containing both r and s. An empty
// operand is ignored so that Union can be folded over a Region starting
// from the zero Rect.
func (r Rect) Union(s Rect) Rect {
	if r.Empty() {
		return s
	}
	if s.Empty() {
		return r
	}
	out := r
	if s.Min.X < out.Min.X {
		out.Min.X = s.Min.X
	}
	if s.Min.Y < out.Min.Y {
		out.Min.Y = s.Min.Y
	}
	if s.Max.X > out.Max.X {
		out.Max.X = s.Max.X
	}
	if s.Max.Y > out.Max.Y {
		out.Max.Y = s.Max.Y
	}
	return out
}

// Add offsets r by p.
func (r Rect) Add(p Point) Rect {
	return Rect{r.Min.Add(p), r.Max.Add(p)}
}

// Clamp constrains p to lie within r, used to keep the pointer position
// within an output's resolution (§4.7 "position is clamped to output
// resolution").
func (r Rect) Clamp(p Point) Point {
	if r.Empty() {
		return p
	}
	if p.X < r.Min.X {
		p.X = r.Min.X
	} else if p.X >= r.Max.X {
		p.X = r.Max.X - 1
	}
	if p.Y < r.Min.Y {
		p.Y = r.Min.Y
	} else if p.Y >= r.Max.Y {
		p.Y = r.Max.Y - 1
	}
	return p
}

// ContainsRect reports whether r fully covers s (used by the output
// scheduler's "fully opaque, skip everything below" fast path, §4.6 step 4).
func (r Rect) ContainsRect(s Rect) bool {
	if s.Empty() {
		return true
	}
	return s.Min.X >= r.Min.X && s.Min.Y >= r.Min.Y && s.Max.X <= r.Max.X && s.Max.Y <= r.Max.Y
}

// Region is an unordered set of rectangles, approximated throughout this
// codebase by its bounding-box union — the same under-approximation the
// original compositor uses for opaque/damage tracking (DESIGN.md open
// question #2). A full scanline region tracker is not worth its complexity
// for a library whose renderer is an external collaborator anyway.
type Region struct {
	rects []Rect
}

// Add unions a rectangle into the region.
func (reg *Region) Add(r Rect) {
	if r.Empty() {
		return
	}
	reg.rects = append(reg.rects, r)
}

// Reset empties the region for reuse.
func (reg *Region) Reset() {
	reg.rects = reg.rects[:0]
}

// Extents returns the bounding box of every rectangle added so far.
func (reg *Region) Extents() Rect {
	var out Rect
	for _, r := range reg.rects {
		out = out.Union(r)
	}
	return out
}

// Clamp intersects every rectangle in reg against bounds, in place,
// dropping empties. Used by surface commit to clamp pending regions to
// surface size (§4.4 step "commit").
func (reg *Region) Clamp(bounds Rect) {
	out := reg.rects[:0]
	for _, r := range reg.rects {
		c := r.Intersect(bounds)
		if !c.Empty() {
			out = append(out, c)
		}
	}
	reg.rects = out
}

// Rects exposes the underlying rectangle list, read-only by convention.
func (reg *Region) Rects() []Rect { return reg.rects }
