package rtti

import (
	"errors"
	"math"
	"strconv"
)

var testReg = NewRegistry()

type Texture struct {
	Name   string
	Width  int32
	Height int32
	Pixels []byte
}

func (*Texture) RTTI() *Type { return textureType }

var textureType = DefineType(testReg, 1, "Texture", func(b *TypeBuilder[Texture]) {
	Plain(b, 1, "name", func(t *Texture) *string { return &t.Name })
	Plain(b, 2, "width", func(t *Texture) *int32 { return &t.Width })
	Plain(b, 3, "height", func(t *Texture) *int32 { return &t.Height })
	DataBlock(b, 4, "pixels", func(t *Texture) *[]byte { return &t.Pixels })
})

type Glyph struct {
	Code    int32
	Page    int32
	Advance float32
	Tags    []string
}

func (*Glyph) RTTI() *Type { return glyphType }

var glyphType = DefineType(testReg, 2, "Glyph", func(b *TypeBuilder[Glyph]) {
	Plain(b, 1, "code", func(g *Glyph) *int32 { return &g.Code })
	Plain(b, 2, "page", func(g *Glyph) *int32 { return &g.Page })
	Plain(b, 3, "advance", func(g *Glyph) *float32 { return &g.Advance })
	PlainArray(b, 4, "tags", func(g *Glyph) *[]string { return &g.Tags })
})

type Metrics struct {
	Ascent  int32
	Descent int32
}

func (*Metrics) RTTI() *Type { return metricsType }

var metricsType = DefineType(testReg, 3, "Metrics", func(b *TypeBuilder[Metrics]) {
	Plain(b, 1, "ascent", func(m *Metrics) *int32 { return &m.Ascent })
	Plain(b, 2, "descent", func(m *Metrics) *int32 { return &m.Descent })
})

type Font struct {
	Name     string
	Size     float32
	Pages    []*Texture
	Glyphs   []Glyph
	Metrics  Metrics
	Fallback *Font
}

func (*Font) RTTI() *Type { return fontType }

var fontType = DefineType(testReg, 4, "Font", func(b *TypeBuilder[Font]) {
	Plain(b, 1, "name", func(f *Font) *string { return &f.Name })
	Plain(b, 2, "size", func(f *Font) *float32 { return &f.Size })
	PtrArray(b, 3, "pages", func(f *Font) *[]*Texture { return &f.Pages })
	ValueArray(b, 4, "glyphs", func(f *Font) *[]Glyph { return &f.Glyphs })
	Value(b, 5, "metrics", func(f *Font) *Metrics { return &f.Metrics })
	Ptr(b, 6, "fallback", func(f *Font) **Font { return &f.Fallback })
	b.Retired(7)
})

type Node struct {
	Name     string
	Parent   *Node
	Children []*Node
}

func (*Node) RTTI() *Type { return nodeType }

var nodeType = DefineType(testReg, 5, "Node", func(b *TypeBuilder[Node]) {
	Plain(b, 1, "name", func(n *Node) *string { return &n.Name })
	Ptr(b, 2, "parent", func(n *Node) **Node { return &n.Parent })
	PtrArray(b, 3, "children", func(n *Node) *[]*Node { return &n.Children })
})

func (n *Node) add(children ...*Node) *Node {
	for _, c := range children {
		c.Parent = n
		n.Children = append(n.Children, c)
	}
	return n
}

// Shape is implemented by *Circle and *Square.
type Shape interface {
	Reflectable
	Area() float64
}

type ShapeBase struct {
	Label string
	Attrs map[string]string
}

func (*ShapeBase) RTTI() *Type { return shapeBaseType }

var shapeBaseType = DefineType(testReg, 6, "ShapeBase", func(b *TypeBuilder[ShapeBase]) {
	b.Abstract()
	Plain(b, 1, "label", func(s *ShapeBase) *string { return &s.Label })
	Plain(b, 2, "attrs", func(s *ShapeBase) *map[string]string { return &s.Attrs })
})

type Circle struct {
	ShapeBase
	Radius float64
}

func (*Circle) RTTI() *Type     { return circleType }
func (c *Circle) Area() float64 { return math.Pi * c.Radius * c.Radius }

var circleType = DefineType(testReg, 7, "Circle", func(b *TypeBuilder[Circle]) {
	Extends(b, shapeBaseType, func(c *Circle) *ShapeBase { return &c.ShapeBase })
	Plain(b, 1, "radius", func(c *Circle) *float64 { return &c.Radius })
})

type Square struct {
	ShapeBase
	Side float64
}

func (*Square) RTTI() *Type     { return squareType }
func (s *Square) Area() float64 { return s.Side * s.Side }

var squareType = DefineType(testReg, 8, "Square", func(b *TypeBuilder[Square]) {
	Extends(b, shapeBaseType, func(s *Square) *ShapeBase { return &s.ShapeBase })
	Plain(b, 1, "side", func(s *Square) *float64 { return &s.Side })
})

type Drawing struct {
	Title  string
	Shapes []Shape
	Focus  Shape
}

func (*Drawing) RTTI() *Type { return drawingType }

var drawingType = DefineType(testReg, 9, "Drawing", func(b *TypeBuilder[Drawing]) {
	Plain(b, 1, "title", func(d *Drawing) *string { return &d.Title })
	PtrArray(b, 2, "shapes", func(d *Drawing) *[]Shape { return &d.Shapes })
	Ptr(b, 3, "focus", func(d *Drawing) *Shape { return &d.Focus })
})

// Mesh can only be initialized once all vertices are known; vertices pass
// through the construction scratch and bounds are computed at the end.
type Mesh struct {
	vertices []float32
	min, max float32

	serializing int
	serialized  int
}

func (*Mesh) RTTI() *Type { return meshType }

func (m *Mesh) setVertices(v []float32) {
	m.vertices = v
	m.min, m.max = 0, 0
	for i, x := range v {
		if i == 0 || x < m.min {
			m.min = x
		}
		if i == 0 || x > m.max {
			m.max = x
		}
	}
}

type meshBuild struct {
	vertices []float32
}

var errEmptyMesh = errors.New("empty mesh")

var meshType = DefineType(testReg, 10, "Mesh", func(b *TypeBuilder[Mesh]) {
	PlainArray(b, 1, "vertices", func(m *Mesh) *[]float32 { return &m.vertices }).
		DecodeWith(func(m *Mesh, cc *Construction, v []float32) error {
			MustCast[*meshBuild](cc.Scratch).vertices = v
			return nil
		})
	b.OnSerializationStarted(func(m *Mesh) { m.serializing++ })
	b.OnSerializationEnded(func(m *Mesh) { m.serialized++ })
	b.OnDeserializationStarted(func(m *Mesh, cc *Construction) {
		cc.Scratch = AnyOf(&meshBuild{})
	})
	b.OnDeserializationEnded(func(m *Mesh, cc *Construction) error {
		mb := MustCast[*meshBuild](cc.Scratch)
		if len(mb.vertices) == 0 {
			return errEmptyMesh
		}
		m.setVertices(mb.vertices)
		return nil
	})
})

type Point struct {
	X, Y int32
}

// Settings exercises the non-default plain traits.
type Settings struct {
	Title   string
	Origin  Point
	Extra   map[string]any
	Enabled map[string]struct{}
	Scores  map[string]int64
	Entry   Pair[string, int32]
	Flags   []uint8
}

func (*Settings) RTTI() *Type { return settingsType }

var settingsType = DefineType(testReg, 11, "Settings", func(b *TypeBuilder[Settings]) {
	Plain(b, 1, "title", func(s *Settings) *string { return &s.Title }).Trait(WString)
	Plain(b, 2, "origin", func(s *Settings) *Point { return &s.Origin }).Trait(POD[Point]())
	Plain(b, 3, "extra", func(s *Settings) *map[string]any { return &s.Extra }).Trait(MsgPack[map[string]any]())
	Plain(b, 4, "enabled", func(s *Settings) *map[string]struct{} { return &s.Enabled }).Trait(Set(String))
	Plain(b, 5, "scores", func(s *Settings) *map[string]int64 { return &s.Scores }).Trait(Map(String, Int64))
	Plain(b, 6, "entry", func(s *Settings) *Pair[string, int32] { return &s.Entry }).Trait(PairOf(String, Int32))
	PlainArray(b, 7, "flags", func(s *Settings) *[]uint8 { return &s.Flags })
})

// FontDesc is a fixed-layout header stored as a single POD value.
type FontDesc struct {
	Ascent     int16
	Descent    int16
	LineHeight uint16
	Flags      uint8
}

type BitmapFont struct {
	Size  uint32
	Desc  FontDesc
	Pages []*Texture
}

func (*BitmapFont) RTTI() *Type { return bitmapFontType }

var bitmapFontType = DefineType(testReg, 12, "BitmapFont", func(b *TypeBuilder[BitmapFont]) {
	Plain(b, 1, "size", func(f *BitmapFont) *uint32 { return &f.Size })
	Plain(b, 2, "desc", func(f *BitmapFont) *FontDesc { return &f.Desc }).Trait(POD[FontDesc]())
	PtrArray(b, 3, "pages", func(f *BitmapFont) *[]*Texture { return &f.Pages })
})

func init() {
	testReg.Seal()
}

// nodeChain returns n nodes, each the only child of the previous one.
func nodeChain(n int) *Node {
	root := &Node{Name: "0"}
	cur := root
	for i := 1; i < n; i++ {
		next := &Node{Name: strconv.Itoa(i)}
		cur.add(next)
		cur = next
	}
	return root
}

func newTestFont() *Font {
	page0 := &Texture{Name: "page0", Width: 2, Height: 2, Pixels: []byte{1, 2, 3, 4}}
	page1 := &Texture{Name: "page1", Width: 1, Height: 1, Pixels: []byte{9}}
	return &Font{
		Name:  "Sans",
		Size:  12.5,
		Pages: []*Texture{page0, page1, page0},
		Glyphs: []Glyph{
			{Code: 'a', Page: 0, Advance: 6, Tags: []string{"lower"}},
			{Code: 'B', Page: 1, Advance: 7.5},
		},
		Metrics: Metrics{Ascent: 10, Descent: -3},
	}
}
