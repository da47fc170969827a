// Package parquet exports points and region tables as Zstd-compressed Parquet.
package parquet

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/rotisserie/eris"

	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/table"
	"github.com/wegman-software/storesite/internal/wkb"
)

// fileWriter owns a temporary file and batches records into it. Commit
// renames the file into place; Abort removes it.
type fileWriter struct {
	file      *os.File
	path      string
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
}

func newFileWriter(path string, schema *arrow.Schema, batchSize int) (*fileWriter, error) {
	if batchSize < 1 {
		batchSize = 100000
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, eris.Wrapf(err, "parquet: create directory %s", dir)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, eris.Wrapf(err, "parquet: create temp file for %s", path)
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(schema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, eris.Wrap(err, "parquet: create writer")
	}

	return &fileWriter{
		file:      f,
		path:      path,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, schema),
		batchSize: batchSize,
	}, nil
}

func (w *fileWriter) added() error {
	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *fileWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	w.count = 0
	return eris.Wrap(w.writer.Write(rec), "parquet: write batch")
}

// commit flushes, closes and renames the file into place
func (w *fileWriter) commit() error {
	defer w.builder.Release()
	tmp := w.file.Name()
	if err := w.flush(); err != nil {
		w.writer.Close()
		w.file.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		os.Remove(tmp)
		return eris.Wrap(err, "parquet: close writer")
	}
	// the parquet writer may already have closed the sink
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		os.Remove(tmp)
		return eris.Wrapf(err, "parquet: close %s", tmp)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return eris.Wrapf(err, "parquet: rename to %s", w.path)
	}
	return nil
}

func (w *fileWriter) abort() {
	w.builder.Release()
	w.writer.Close()
	w.file.Close()
	os.Remove(w.file.Name())
}

// PointSchema is the Arrow layout of point files
var PointSchema = arrow.NewSchema([]arrow.Field{
	{Name: "category", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "osm_type", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "osm_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "longitude", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "latitude", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: false},
}, nil)

// PointWriter writes extracted points with their EWKB location
type PointWriter struct {
	w   *fileWriter
	enc *wkb.Encoder
}

// NewPointWriter creates a point writer. The file appears at path on Close.
func NewPointWriter(path string, batchSize int) (*PointWriter, error) {
	w, err := newFileWriter(path, PointSchema, batchSize)
	if err != nil {
		return nil, err
	}
	return &PointWriter{w: w, enc: wkb.NewEncoder(32, wkb.SRID4326)}, nil
}

// Write appends one point
func (pw *PointWriter) Write(p extract.Point) error {
	b := pw.w.builder
	b.Field(0).(*array.StringBuilder).Append(p.Category)
	b.Field(1).(*array.StringBuilder).Append(string(p.Type))
	b.Field(2).(*array.Int64Builder).Append(p.ID)
	b.Field(3).(*array.Float64Builder).Append(p.Lon)
	b.Field(4).(*array.Float64Builder).Append(p.Lat)
	b.Field(5).(*array.BinaryBuilder).Append(pw.enc.EncodePoint(p.Location()))
	return pw.w.added()
}

// Close commits the file
func (pw *PointWriter) Close() error {
	return pw.w.commit()
}

// Abort discards everything written
func (pw *PointWriter) Abort() {
	pw.w.abort()
}

// WritePointsFile writes all points to path
func WritePointsFile(path string, points []extract.Point, batchSize int) error {
	pw, err := NewPointWriter(path, batchSize)
	if err != nil {
		return err
	}
	for _, p := range points {
		if err := pw.Write(p); err != nil {
			pw.Abort()
			return err
		}
	}
	return pw.Close()
}

// TableSchema builds the Arrow layout of a region table: the key as a
// string followed by one float64 column per attribute
func TableSchema(t *table.Table) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(t.Columns())+1)
	fields = append(fields, arrow.Field{Name: t.Key(), Type: arrow.BinaryTypes.String, Nullable: false})
	for _, c := range t.Columns() {
		fields = append(fields, arrow.Field{Name: c, Type: arrow.PrimitiveTypes.Float64, Nullable: false})
	}
	return arrow.NewSchema(fields, nil)
}

// WriteTableFile writes a region table to path
func WriteTableFile(path string, t *table.Table, batchSize int) error {
	w, err := newFileWriter(path, TableSchema(t), batchSize)
	if err != nil {
		return err
	}

	err = t.Each(func(code string, row []float64) error {
		w.builder.Field(0).(*array.StringBuilder).Append(code)
		for j, v := range row {
			w.builder.Field(j + 1).(*array.Float64Builder).Append(v)
		}
		return w.added()
	})
	if err != nil {
		w.abort()
		return err
	}
	return w.commit()
}
