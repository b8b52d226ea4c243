// Command rttidump prints the structure of rtti-encoded data without knowing
// its schema. It reads a stream file, or a value from a store.
//
//	rttidump [-yaml] FILE
//	rttidump [-yaml] -store DB [-key KEY | -prefix PREFIX]
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/andreyvit/rtti"
	"github.com/andreyvit/rtti/mmap"
	"github.com/andreyvit/rtti/store"
	"gopkg.in/yaml.v3"
)

func main() {
	var (
		asYAML  bool
		dbPath  string
		key     string
		prefix  string
		bucket  string
		verbose bool
	)
	flag.BoolVar(&asYAML, "yaml", false, "print YAML instead of indented text")
	flag.StringVar(&dbPath, "store", "", "read values from this store file")
	flag.StringVar(&key, "key", "", "store key to dump")
	flag.StringVar(&prefix, "prefix", "", "dump every store key with this prefix")
	flag.StringVar(&bucket, "bucket", store.DefaultBucket, "store bucket")
	flag.BoolVar(&verbose, "v", false, "log debug messages")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: rttidump [-yaml] FILE\n       rttidump [-yaml] -store DB [-key KEY | -prefix PREFIX]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	d := &dumper{w: os.Stdout, yaml: asYAML}
	var err error
	switch {
	case dbPath != "":
		if flag.NArg() != 0 {
			flag.Usage()
			os.Exit(2)
		}
		err = d.dumpStore(dbPath, bucket, key, prefix, logger)
	case flag.NArg() == 1:
		err = d.dumpFile(flag.Arg(0), logger)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("rttidump failed", "err", err)
		os.Exit(1)
	}
}

type dumper struct {
	w    io.Writer
	yaml bool
}

func (d *dumper) dumpFile(path string, logger *slog.Logger) error {
	m, err := mmap.Open(path, mmap.SequentialAccess)
	if err != nil {
		return err
	}
	defer m.Close()

	h, err := rtti.ParseHeader(m.Bytes())
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	logger.Debug("read header", "path", path, "size", m.Len(), "header", h.String())

	recs, err := rtti.DecodeIntermediate(m.Bytes())
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for i, rec := range recs {
		if err := d.dump(fmt.Sprintf("record %d", i), rec); err != nil {
			return err
		}
	}
	return nil
}

func (d *dumper) dumpStore(path, bucket, key, prefix string, logger *slog.Logger) error {
	reg := rtti.NewRegistry()
	reg.Seal()
	s, err := store.Open(path, reg, &store.Options{
		Options: rtti.Options{Logger: logger},
		Bucket:  bucket,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	return s.View(func(tx *store.Tx) error {
		keys := []string{key}
		if key == "" {
			keys = tx.Keys(prefix)
		}
		for _, k := range keys {
			data, meta, err := tx.Stream(k)
			if err != nil {
				return err
			}
			logger.Debug("read value", "key", k, "type", meta.TypeID, "size", meta.Size, "compressed", meta.Compressed)
			recs, err := rtti.DecodeIntermediate(data)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			for _, rec := range recs {
				if err := d.dump(k, rec); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (d *dumper) dump(title string, obj *rtti.SerializedObject) error {
	if !d.yaml {
		_, err := fmt.Fprintf(d.w, "%s: %s", title, obj.Dump())
		return err
	}
	doc := map[string]*yamlObject{title: toYAML(obj)}
	enc := yaml.NewEncoder(d.w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

type yamlObject struct {
	ID       uint32        `yaml:"id,omitempty"`
	Type     rtti.TypeID   `yaml:"type"`
	Sections []yamlSection `yaml:"sections"`
}

type yamlSection struct {
	Level  rtti.TypeID `yaml:"level"`
	Fields []yamlField `yaml:"fields"`
}

type yamlField struct {
	ID      rtti.FieldID  `yaml:"id"`
	Kind    string        `yaml:"kind"`
	Array   bool          `yaml:"array,omitempty"`
	Dynamic bool          `yaml:"dynamic,omitempty"`
	Tag     string        `yaml:"tag,omitempty"`
	Count   int           `yaml:"count,omitempty"`
	Raw     string        `yaml:"raw,omitempty"`
	Refs    []any         `yaml:"refs,omitempty"`
	Values  []*yamlObject `yaml:"values,omitempty"`
}

func toYAML(obj *rtti.SerializedObject) *yamlObject {
	out := &yamlObject{ID: obj.ID, Type: obj.TypeID}
	for _, s := range obj.Sections {
		sec := yamlSection{Level: s.TypeID}
		for _, f := range s.Fields {
			yf := yamlField{
				ID:      f.ID,
				Kind:    f.Kind.String(),
				Array:   f.Array,
				Dynamic: f.Dynamic,
				Count:   f.Count,
				Raw:     hex.EncodeToString(f.Raw),
			}
			if f.Tag != rtti.TagNone {
				yf.Tag = f.Tag.String()
			}
			for _, ref := range f.Refs {
				if ref.Object != nil {
					yf.Refs = append(yf.Refs, toYAML(ref.Object))
				} else {
					yf.Refs = append(yf.Refs, ref.String())
				}
			}
			for _, v := range f.Values {
				yf.Values = append(yf.Values, toYAML(v))
			}
			sec.Fields = append(sec.Fields, yf)
		}
		out.Sections = append(out.Sections, sec)
	}
	return out
}
