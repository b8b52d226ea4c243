package rtti

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDecodeIntermediate(t *testing.T) {
	font := newTestFont()
	font.Fallback = font
	objs, err := DecodeIntermediate(encode(t, font))
	if err != nil {
		t.Fatalf("DecodeIntermediate: %v", err)
	}
	if len(objs) != 1 {
		t.Fatalf("got %d records, wanted 1", len(objs))
	}
	root := objs[0]
	if root.ID != 1 || root.TypeID != fontType.ID() || len(root.Sections) != 1 {
		t.Fatalf("root = #%d type %d with %d sections", root.ID, root.TypeID, len(root.Sections))
	}

	fields := map[FieldID]SerializedField{}
	for _, f := range root.Sections[0].Fields {
		fields[f.ID] = f
	}
	name := fields[1]
	if name.Kind != KindPlain || !name.Dynamic || name.Tag != TagString || !bytes.HasSuffix(name.Raw, []byte("Sans")) {
		t.Fatalf("name = %+v", name)
	}
	pages := fields[3]
	if pages.Kind != KindPtr || !pages.Array || pages.Count != 3 || len(pages.Refs) != 3 {
		t.Fatalf("pages = %+v", pages)
	}
	if pages.Refs[0].Object == nil || pages.Refs[0].Object.TypeID != textureType.ID() {
		t.Fatalf("pages[0] = %v, wanted an inline texture", pages.Refs[0])
	}
	if pages.Refs[2].Object != nil || pages.Refs[2].ID != pages.Refs[0].ID {
		t.Fatalf("pages[2] = %v, wanted a back-reference to pages[0]", pages.Refs[2])
	}
	glyphs := fields[4]
	if glyphs.Kind != KindValue || glyphs.Count != 2 || len(glyphs.Values) != 2 || glyphs.Values[0].ID != 0 {
		t.Fatalf("glyphs = %+v", glyphs)
	}
	if fb := fields[6]; len(fb.Refs) != 1 || fb.Refs[0].ID != 1 || fb.Refs[0].String() != "@1" {
		t.Fatalf("fallback = %+v, wanted a reference to the root", fb)
	}

	pixels := pages.Refs[0].Object.Sections[0].Fields[3]
	if pixels.Kind != KindDataBlock || !bytes.Equal(pixels.Raw, []byte{1, 2, 3, 4}) {
		t.Fatalf("pixels = %+v", pixels)
	}
}

func TestDecodeIntermediate_hierarchy(t *testing.T) {
	objs, err := DecodeIntermediate(encode(t, &Circle{ShapeBase: ShapeBase{Label: "c"}, Radius: 1}))
	if err != nil {
		t.Fatal(err)
	}
	secs := objs[0].Sections
	if len(secs) != 2 || secs[0].TypeID != circleType.ID() || secs[1].TypeID != shapeBaseType.ID() {
		t.Fatalf("sections = %+v, wanted Circle then ShapeBase", secs)
	}
}

func TestDecodeIntermediate_framed(t *testing.T) {
	ws := &memFile{}
	enc, err := NewFileEncoder(ws, &FileOptions{Compress: true, Checksum: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, obj := range testRecords() {
		if err := enc.Encode(obj); err != nil {
			t.Fatal(err)
		}
	}
	objs, err := DecodeIntermediate(ws.data)
	if err != nil {
		t.Fatalf("DecodeIntermediate: %v", err)
	}
	if len(objs) != 3 || objs[1].TypeID != nodeType.ID() {
		t.Fatalf("got %d records", len(objs))
	}
}

func TestDecodeIntermediate_corrupt(t *testing.T) {
	data := encode(t, newTestFont())
	for n := HeaderSize + 1; n < len(data); n++ {
		if _, err := DecodeIntermediate(data[:n]); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("DecodeIntermediate(%d of %d bytes) = %v, wanted ErrCorrupt", n, len(data), err)
		}
	}
	objs, err := DecodeIntermediate(data[:HeaderSize])
	if err != nil || len(objs) != 0 {
		t.Fatalf("DecodeIntermediate(header only) = %v, %v, wanted no records", objs, err)
	}
}

func TestSerializedObject_Dump(t *testing.T) {
	objs, err := DecodeIntermediate(encode(t, (&Node{Name: "root"}).add(&Node{Name: "kid"})))
	if err != nil {
		t.Fatal(err)
	}
	dump := objs[0].Dump()
	for _, want := range []string{"#1 type 5", "[5]", "ptr array x1", "#2 type 5", "@1"} {
		if !strings.Contains(dump, want) {
			t.Errorf("Dump lacks %q:\n%s", want, dump)
		}
	}
}

func TestEncodeIntermediate_decode(t *testing.T) {
	orig := newTestFont()
	orig.Fallback = orig
	tree, err := EncodeIntermediate(orig, nil)
	if err != nil {
		t.Fatalf("EncodeIntermediate: %v", err)
	}
	if tree.ID != 1 || tree.TypeID != fontType.ID() {
		t.Fatalf("tree = #%d type %d", tree.ID, tree.TypeID)
	}

	obj, err := tree.Decode(testReg, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	font := obj.(*Font)
	if font.Fallback != font {
		t.Fatalf("Fallback = %p, wanted the font itself (%p)", font.Fallback, font)
	}
	if len(font.Pages) != 3 || font.Pages[0] != font.Pages[2] || font.Pages[0] == font.Pages[1] {
		t.Fatalf("Pages = %v, wanted page0, page1, page0", font.Pages)
	}
	if !bytes.Equal(encode(t, font), encode(t, orig)) {
		t.Fatalf("decoded font encodes differently from the original")
	}
}

func TestEncodeIntermediate_hierarchyAndHooks(t *testing.T) {
	circle := &Circle{ShapeBase: ShapeBase{Label: "c", Attrs: map[string]string{"k": "v"}}, Radius: 2}
	tree, err := EncodeIntermediate(&Drawing{Title: "d", Shapes: []Shape{circle, nil}, Focus: circle}, nil)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := tree.Decode(testReg, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d := obj.(*Drawing)
	c, ok := d.Shapes[0].(*Circle)
	if !ok || c.Label != "c" || c.Attrs["k"] != "v" || c.Radius != 2 || d.Focus != Shape(c) || d.Shapes[1] != nil {
		t.Fatalf("drawing = %+v", d)
	}

	m := &Mesh{}
	m.setVertices([]float32{4, -2})
	tree, err = EncodeIntermediate(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	obj, err = tree.Decode(testReg, nil)
	if err != nil {
		t.Fatalf("Decode(mesh): %v", err)
	}
	if decoded := obj.(*Mesh); decoded.min != -2 || decoded.max != 4 {
		t.Fatalf("bounds = %v..%v, wanted -2..4", decoded.min, decoded.max)
	}
}

func TestSerializedObject_Decode_errors(t *testing.T) {
	tree, err := EncodeIntermediate(&Node{Name: "x"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Decode(NewRegistry(), nil); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Decode(empty registry) = %v, wanted ErrUnknownType", err)
	}

	value := &SerializedObject{TypeID: metricsType.ID()}
	if _, err := value.Decode(testReg, nil); !errors.Is(err, ErrBadType) {
		t.Fatalf("Decode(embedded value) = %v, wanted ErrBadType", err)
	}

	dangling := &SerializedObject{ID: 1, TypeID: nodeType.ID(), Sections: []SerializedSection{{
		TypeID: nodeType.ID(),
		Fields: []SerializedField{{ID: 2, Kind: KindPtr, Refs: []SerializedRef{{ID: 7}}}},
	}}}
	if _, err := dangling.Decode(testReg, nil); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Decode(dangling reference) = %v, wanted ErrCorrupt", err)
	}
}
