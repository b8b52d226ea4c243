package store

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/andreyvit/rtti"
)

var noteReg = rtti.NewRegistry()

type Note struct {
	Title  string
	Tags   []string
	Body   []byte
	Parent *Note
	Links  []*Note
}

func (*Note) RTTI() *rtti.Type { return noteType }

var noteType = rtti.DefineType(noteReg, 1, "Note", func(b *rtti.TypeBuilder[Note]) {
	rtti.Plain(b, 1, "title", func(n *Note) *string { return &n.Title })
	rtti.PlainArray(b, 2, "tags", func(n *Note) *[]string { return &n.Tags })
	rtti.DataBlock(b, 3, "body", func(n *Note) *[]byte { return &n.Body })
	rtti.Ptr(b, 4, "parent", func(n *Note) **Note { return &n.Parent })
	rtti.PtrArray(b, 5, "links", func(n *Note) *[]*Note { return &n.Links })
})

type Tag struct {
	Name string
}

func (*Tag) RTTI() *rtti.Type { return tagType }

var tagType = rtti.DefineType(noteReg, 2, "Tag", func(b *rtti.TypeBuilder[Tag]) {
	rtti.Plain(b, 1, "name", func(t *Tag) *string { return &t.Name })
})

func init() {
	noteReg.Seal()
}

// noteRegV2 has an extra field on Note, so its fingerprint differs.
var noteRegV2 = rtti.NewRegistry()

type NoteV2 struct {
	Title  string
	Pinned bool
}

func (*NoteV2) RTTI() *rtti.Type { return noteV2Type }

var noteV2Type = rtti.DefineType(noteRegV2, 1, "Note", func(b *rtti.TypeBuilder[NoteV2]) {
	rtti.Plain(b, 1, "title", func(n *NoteV2) *string { return &n.Title })
	rtti.Plain(b, 6, "pinned", func(n *NoteV2) *bool { return &n.Pinned })
})

func init() {
	noteRegV2.Seal()
}

type backend struct {
	name string
	open func(t testing.TB, opt *Options) *Store
}

var backends = []backend{
	{"memory", func(t testing.TB, opt *Options) *Store {
		s := NewMemory(noteReg, opt)
		t.Cleanup(func() { s.Close() })
		return s
	}},
	{"bolt", func(t testing.TB, opt *Options) *Store {
		return openBolt(t, filepath.Join(t.TempDir(), "test.db"), noteReg, opt)
	}},
}

func openBolt(t testing.TB, path string, reg *rtti.Registry, opt *Options) *Store {
	t.Helper()
	if opt == nil {
		opt = &Options{}
	}
	opt.NoSync = true
	s, err := Open(path, reg, opt)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func forEachBackend(t *testing.T, opt *Options, f func(t *testing.T, s *Store)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			var o *Options
			if opt != nil {
				copied := *opt
				o = &copied
			}
			f(t, b.open(t, o))
		})
	}
}

func update(t testing.TB, s *Store, f func(tx *Tx) error) {
	t.Helper()
	if err := s.Update(f); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func view(t testing.TB, s *Store, f func(tx *Tx) error) {
	t.Helper()
	if err := s.View(f); err != nil {
		t.Fatalf("View: %v", err)
	}
}

func ok(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func newNoteGraph() *Note {
	root := &Note{Title: "root", Tags: []string{"a", "b"}, Body: []byte("hello")}
	child := &Note{Title: "child", Parent: root}
	root.Links = []*Note{child, child, root}
	return root
}

func TestStore_roundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "compressed"
		}
		t.Run(name, func(t *testing.T) {
			forEachBackend(t, &Options{Compress: compress}, func(t *testing.T, s *Store) {
				update(t, s, func(tx *Tx) error {
					return tx.Put("notes/1", newNoteGraph())
				})

				view(t, s, func(tx *Tx) error {
					if tx.Writable() {
						t.Errorf("View tx is writable")
					}
					root, err := GetAs[*Note](tx, "notes/1")
					ok(t, err)
					if root.Title != "root" || !slices.Equal(root.Tags, []string{"a", "b"}) || string(root.Body) != "hello" {
						t.Fatalf("root = %+v", root)
					}
					if len(root.Links) != 3 {
						t.Fatalf("len(Links) = %d, wanted 3", len(root.Links))
					}
					if root.Links[0] != root.Links[1] || root.Links[2] != root || root.Links[0].Parent != root {
						t.Errorf("sharing lost: links = %v", root.Links)
					}

					meta, err := tx.Meta("notes/1")
					ok(t, err)
					if meta.TypeID != noteType.ID() || meta.Fingerprint != noteType.Fingerprint() {
						t.Errorf("meta = %+v, wanted type %d fingerprint %016x", meta, noteType.ID(), noteType.Fingerprint())
					}
					if meta.Compressed != compress || meta.Size <= 0 {
						t.Errorf("meta = %+v, wanted Compressed = %v and a positive size", meta, compress)
					}
					return nil
				})
			})
		})
	}
}

func TestStore_compressionShrinksRepetitiveData(t *testing.T) {
	sizes := make(map[bool]int)
	for _, compress := range []bool{false, true} {
		s := NewMemory(noteReg, &Options{Compress: compress})
		note := &Note{Title: "big", Body: bytes.Repeat([]byte("abcd"), 4096)}
		update(t, s, func(tx *Tx) error { return tx.Put("big", note) })
		view(t, s, func(tx *Tx) error {
			meta, err := tx.Meta("big")
			sizes[compress] = meta.Size
			return err
		})
	}
	if sizes[true] >= sizes[false]/4 {
		t.Fatalf("compressed size %d, uncompressed %d", sizes[true], sizes[false])
	}
}

func TestStore_keys(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s *Store) {
		update(t, s, func(tx *Tx) error {
			for _, k := range []string{"b/2", "a/1", "b/1", "c", "b/3"} {
				if err := tx.Put(k, &Tag{Name: k}); err != nil {
					return err
				}
			}
			return nil
		})

		view(t, s, func(tx *Tx) error {
			if n := tx.Len(); n != 5 {
				t.Errorf("Len = %d, wanted 5", n)
			}
			for _, tt := range []struct {
				prefix string
				keys   []string
			}{
				{"", []string{"a/1", "b/1", "b/2", "b/3", "c"}},
				{"b/", []string{"b/1", "b/2", "b/3"}},
				{"d", nil},
			} {
				if got := tx.Keys(tt.prefix); !slices.Equal(got, tt.keys) {
					t.Errorf("Keys(%q) = %q, wanted %q", tt.prefix, got, tt.keys)
				}
			}

			var names []string
			ok(t, tx.Scan("b/", func(key string, obj rtti.Reflectable) error {
				names = append(names, obj.(*Tag).Name)
				return nil
			}))
			if !slices.Equal(names, []string{"b/1", "b/2", "b/3"}) {
				t.Errorf("Scan(b/) = %q", names)
			}

			stop := errors.New("stop")
			var count int
			err := tx.Scan("", func(key string, obj rtti.Reflectable) error {
				count++
				return stop
			})
			if !errors.Is(err, stop) || count != 1 {
				t.Errorf("Scan = %v after %d calls, wanted stop after 1", err, count)
			}
			return nil
		})
	})
}

func TestStore_delete(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s *Store) {
		update(t, s, func(tx *Tx) error {
			ok(t, tx.Put("x", &Tag{Name: "x"}))
			if !tx.Has("x") {
				t.Fatalf("Has(x) = false after Put")
			}
			ok(t, tx.Delete("x"))
			ok(t, tx.Delete("never"))
			if tx.Has("x") {
				t.Fatalf("Has(x) = true after Delete")
			}
			return nil
		})
		view(t, s, func(tx *Tx) error {
			if _, err := tx.Get("x"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get = %v, wanted ErrNotFound", err)
			}
			if _, err := tx.Meta("x"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Meta = %v, wanted ErrNotFound", err)
			}
			return nil
		})
	})
}

func TestStore_rollback(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s *Store) {
		fail := errors.New("fail")
		err := s.Update(func(tx *Tx) error {
			ok(t, tx.Put("x", &Tag{Name: "x"}))
			return fail
		})
		if !errors.Is(err, fail) {
			t.Fatalf("Update = %v, wanted %v", err, fail)
		}

		err = s.Update(func(tx *Tx) error {
			ok(t, tx.Put("y", &Tag{Name: "y"}))
			panic("boom")
		})
		if err == nil || !strings.Contains(err.Error(), "panic: boom") {
			t.Fatalf("Update = %v, wanted the panic", err)
		}

		view(t, s, func(tx *Tx) error {
			if n := tx.Len(); n != 0 {
				t.Errorf("Len = %d after rollbacks, wanted 0", n)
			}
			return nil
		})
	})
}

func TestStore_readOnly(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s *Store) {
		err := s.View(func(tx *Tx) error {
			return tx.Put("x", &Tag{Name: "x"})
		})
		if err == nil {
			t.Fatalf("Put in View succeeded")
		}
	})
}

func TestStore_putErrors(t *testing.T) {
	s := NewMemory(noteReg, nil)
	update(t, s, func(tx *Tx) error {
		if err := tx.Put("x", nil); !errors.Is(err, rtti.ErrBadType) {
			t.Errorf("Put(nil) = %v, wanted ErrBadType", err)
		}
		if err := tx.Put("x", &NoteV2{}); !errors.Is(err, rtti.ErrBadType) {
			t.Errorf("Put(foreign type) = %v, wanted ErrBadType", err)
		}
		if err := tx.Put("", &Tag{}); err == nil {
			t.Errorf("Put(empty key) succeeded")
		}
		return nil
	})
	update(t, s, func(tx *Tx) error {
		ok(t, tx.Put("t", &Tag{Name: "t"}))
		if _, err := GetAs[*Note](tx, "t"); !errors.Is(err, rtti.ErrBadType) {
			t.Errorf("GetAs[*Note](Tag) = %v, wanted ErrBadType", err)
		}
		return nil
	})
}

func TestStore_overflow(t *testing.T) {
	s := NewMemory(noteReg, &Options{Options: rtti.Options{MaxFieldSize: 64}})
	err := s.Update(func(tx *Tx) error {
		return tx.Put("big", &Note{Body: make([]byte, 100)})
	})
	if !errors.Is(err, rtti.ErrDataOverflow) {
		t.Fatalf("Update = %v, wanted ErrDataOverflow", err)
	}
}

func TestStore_corruptValue(t *testing.T) {
	s := NewMemory(noteReg, nil)
	update(t, s, func(tx *Tx) error {
		return tx.Put("n", &Note{Title: "n"})
	})

	tests := []struct {
		name   string
		mangle func(raw []byte) []byte
	}{
		{"empty", func(raw []byte) []byte { return raw[:0] }},
		{"short", func(raw []byte) []byte { return raw[:5] }},
		{"bad version", func(raw []byte) []byte { raw[0] = 2; return raw }},
		{"unknown flag", func(raw []byte) []byte { raw[0] |= 0x40; return raw }},
		{"truncated stream", func(raw []byte) []byte { return raw[:len(raw)-1] }},
		{"bad zstd", func(raw []byte) []byte { raw[0] |= byte(vfZstd); return raw }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update(t, s, func(tx *Tx) error {
				raw := bytes.Clone(tx.bucket.Get([]byte("n")))
				ok(t, tx.bucket.Put([]byte("c"), tt.mangle(raw)))
				if _, err := tx.Get("c"); !errors.Is(err, rtti.ErrCorrupt) {
					t.Errorf("Get = %v, wanted ErrCorrupt", err)
				}
				return nil
			})
		})
	}
}

func TestStore_fingerprintSkew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skew.db")

	s := openBolt(t, path, noteReg, nil)
	update(t, s, func(tx *Tx) error {
		return tx.Put("n", &Note{Title: "old", Tags: []string{"t"}})
	})
	ok(t, s.Close())

	var logBuf strings.Builder
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s2 := openBolt(t, path, noteRegV2, &Options{Options: rtti.Options{Logger: logger}})
	view(t, s2, func(tx *Tx) error {
		n, err := GetAs[*NoteV2](tx, "n")
		ok(t, err)
		if n.Title != "old" || n.Pinned {
			t.Errorf("n = %+v, wanted title kept and Pinned false", n)
		}
		return nil
	})
	if log := logBuf.String(); !strings.Contains(log, "schema changed") || !strings.Contains(log, "key=n") {
		t.Fatalf("log = %q, wanted a schema change warning for n", log)
	}
}

func TestStore_reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s := openBolt(t, path, noteReg, &Options{Bucket: "custom"})
	update(t, s, func(tx *Tx) error {
		return tx.Put("n", &Note{Title: "kept"})
	})
	ok(t, s.Close())

	s = openBolt(t, path, noteReg, &Options{Bucket: "custom"})
	view(t, s, func(tx *Tx) error {
		n, err := GetAs[*Note](tx, "n")
		ok(t, err)
		if n.Title != "kept" {
			t.Errorf("Title = %q, wanted kept", n.Title)
		}
		return nil
	})
}

func TestMemStorage_snapshots(t *testing.T) {
	s := NewMemory(noteReg, nil)
	update(t, s, func(tx *Tx) error {
		return tx.Put("a", &Tag{Name: "a"})
	})

	rtx, err := s.st.BeginTx(false)
	ok(t, err)
	defer rtx.Rollback()

	update(t, s, func(tx *Tx) error {
		ok(t, tx.Put("b", &Tag{Name: "b"}))
		return tx.Delete("a")
	})

	old := s.newTx(rtx)
	if keys := old.Keys(""); !slices.Equal(keys, []string{"a"}) {
		t.Errorf("old snapshot keys = %q, wanted [a]", keys)
	}
	view(t, s, func(tx *Tx) error {
		if keys := tx.Keys(""); !slices.Equal(keys, []string{"b"}) {
			t.Errorf("keys = %q, wanted [b]", keys)
		}
		return nil
	})
}

func TestMemStorage_closed(t *testing.T) {
	s := NewMemory(noteReg, nil)
	stx, err := s.st.BeginTx(true)
	ok(t, err)
	ok(t, s.Close())
	if err := stx.Commit(); !errors.Is(err, errClosed) {
		t.Fatalf("Commit after Close = %v, wanted errClosed", err)
	}
	ok(t, stx.Rollback())
	if _, err := s.st.BeginTx(true); !errors.Is(err, errClosed) {
		t.Fatalf("BeginTx after Close = %v, wanted errClosed", err)
	}
}

func TestTx_Stream(t *testing.T) {
	forEachBackend(t, &Options{Compress: true}, func(t *testing.T, s *Store) {
		update(t, s, func(tx *Tx) error {
			return tx.Put("n", newNoteGraph())
		})
		var data []byte
		view(t, s, func(tx *Tx) error {
			var meta Meta
			var err error
			data, meta, err = tx.Stream("n")
			if !meta.Compressed {
				t.Errorf("Stream meta = %+v, wanted Compressed", meta)
			}
			return err
		})

		recs, err := rtti.DecodeIntermediate(data)
		ok(t, err)
		if len(recs) != 1 || recs[0].TypeID != noteType.ID() {
			t.Fatalf("DecodeIntermediate = %v, wanted one Note", recs)
		}
		if dump := recs[0].Dump(); !strings.Contains(dump, "@1") {
			t.Fatalf("Dump = %s, wanted the back reference to @1", dump)
		}
	})
}

func TestTx_DiffPatch(t *testing.T) {
	forEachBackend(t, &Options{Compress: true}, func(t *testing.T, s *Store) {
		update(t, s, func(tx *Tx) error {
			return tx.Put("n", newNoteGraph())
		})

		var diff *rtti.SerializedObject
		view(t, s, func(tx *Tx) error {
			root, err := GetAs[*Note](tx, "n")
			ok(t, err)
			if diff, err = tx.Diff("n", root); err != nil || diff != nil {
				t.Fatalf("Diff(unchanged) = %v, %v, wanted nil", diff, err)
			}

			root.Links[0].Title = "edited child"
			root.Links = append(root.Links, &Note{Title: "new", Parent: root.Links[0]})
			diff, err = tx.Diff("n", root)
			return err
		})
		if diff == nil {
			t.Fatalf("Diff = nil, wanted changes")
		}

		update(t, s, func(tx *Tx) error {
			obj, err := tx.Patch("n", diff)
			ok(t, err)
			if root := obj.(*Note); len(root.Links) != 4 || root.Links[3].Parent != root.Links[0] {
				t.Errorf("patched links = %v", root.Links)
			}
			return nil
		})
		view(t, s, func(tx *Tx) error {
			root, err := GetAs[*Note](tx, "n")
			ok(t, err)
			child := root.Links[0]
			if child.Title != "edited child" || root.Links[1] != child || child.Parent != root {
				t.Errorf("child = %+v, wanted it renamed and still shared", child)
			}
			if n := root.Links[3]; n.Title != "new" || n.Parent != child {
				t.Errorf("new note = %+v", n)
			}
			if root.Title != "root" || string(root.Body) != "hello" {
				t.Errorf("root = %+v, wanted untouched fields kept", root)
			}
			return nil
		})

		err := s.View(func(tx *Tx) error {
			_, err := tx.Diff("missing", &Note{})
			return err
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Diff(missing) = %v, wanted ErrNotFound", err)
		}
	})
}
