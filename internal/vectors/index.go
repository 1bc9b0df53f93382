// SPDX-License-Identifier: MIT

package vectors

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"

	"github.com/videocatalog/videocatalog/internal/fault"
)

const (
	indexFileName = "catalog.index"
	metaFileName  = "catalog_meta.json"
)

// indexMagic identifies the on-disk index format; bump the trailing digit on
// layout changes.
var indexMagic = []byte("VCX1")

// Index is a dense cosine-similarity index. Vectors are stored normalised,
// so similarity reduces to a dot product.
type Index struct {
	Dim      int
	Embedder string
	BuiltUTC string
	docs     []Document
	vecs     [][]float32
}

// Meta is the sidecar metadata persisted next to the index file.
type Meta struct {
	BuiltUTC string         `json:"built_utc"`
	Embedder string         `json:"embedder"`
	Dim      int            `json:"dim"`
	DocCount int            `json:"doc_count"`
	Sources  map[string]int `json:"sources"`
}

func NewIndex(embedder, builtUTC string, docs []Document, vecs [][]float32) (*Index, error) {
	if len(docs) != len(vecs) {
		return nil, fault.Newf(fault.Internal, "index mismatch: %d docs, %d vectors", len(docs), len(vecs))
	}
	dim := 0
	for _, v := range vecs {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return nil, fault.Newf(fault.Internal, "ragged vectors: %d vs %d", len(v), dim)
		}
	}
	return &Index{Dim: dim, Embedder: embedder, BuiltUTC: builtUTC, docs: docs, vecs: vecs}, nil
}

func (ix *Index) Len() int { return len(ix.docs) }

// Hit is one nearest-neighbour result.
type Hit struct {
	Doc   Document
	Score float64
}

// Search returns the top-k documents by cosine similarity to query.
func (ix *Index) Search(query []float32, k int) []Hit {
	if len(query) != ix.Dim || k <= 0 {
		return nil
	}
	hits := make([]Hit, 0, len(ix.docs))
	for i, vec := range ix.vecs {
		var dot float64
		for j, q := range query {
			dot += float64(q) * float64(vec[j])
		}
		hits = append(hits, Hit{Doc: ix.docs[i], Score: dot})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Save writes the index and its metadata atomically into dir.
func (ix *Index) Save(dir string, sources map[string]int) error {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	_, _ = w.Write(indexMagic)
	writeU32(w, uint32(ix.Dim))
	writeU32(w, uint32(len(ix.docs)))
	for i, doc := range ix.docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fault.Wrap(fault.Internal, "encode index document", err)
		}
		writeU32(w, uint32(len(raw)))
		_, _ = w.Write(raw)
		if err := binary.Write(w, binary.LittleEndian, ix.vecs[i]); err != nil {
			return fault.Wrap(fault.Internal, "encode index vector", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fault.Wrap(fault.Internal, "flush index", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, indexFileName), buf.Bytes(), 0o644); err != nil {
		return fault.Wrap(fault.Internal, "write index file", err)
	}

	meta := Meta{
		BuiltUTC: ix.BuiltUTC,
		Embedder: ix.Embedder,
		Dim:      ix.Dim,
		DocCount: len(ix.docs),
		Sources:  sources,
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fault.Wrap(fault.Internal, "encode index metadata", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, metaFileName), raw, 0o644); err != nil {
		return fault.Wrap(fault.Internal, "write index metadata", err)
	}
	return nil
}

// LoadIndex reads a previously saved index from dir. A missing file returns
// (nil, nil): no index yet is not an error.
func LoadIndex(dir string) (*Index, error) {
	raw, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "read index file", err)
	}
	r := bytes.NewReader(raw)

	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, indexMagic) {
		return nil, fault.New(fault.Internal, "index file has unknown format")
	}
	dim, err := readU32(r)
	if err != nil {
		return nil, err
	}
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, count)
	vecs := make([][]float32, 0, count)
	for i := uint32(0); i < count; i++ {
		docLen, err := readU32(r)
		if err != nil {
			return nil, err
		}
		docRaw := make([]byte, docLen)
		if _, err := io.ReadFull(r, docRaw); err != nil {
			return nil, fault.Wrap(fault.Internal, "read index document", err)
		}
		var doc Document
		if err := json.Unmarshal(docRaw, &doc); err != nil {
			return nil, fault.Wrap(fault.Internal, "decode index document", err)
		}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fault.Wrap(fault.Internal, "read index vector", err)
		}
		docs = append(docs, doc)
		vecs = append(vecs, vec)
	}

	ix := &Index{Dim: int(dim), docs: docs, vecs: vecs}
	if meta, err := loadMeta(dir); err == nil && meta != nil {
		ix.Embedder = meta.Embedder
		ix.BuiltUTC = meta.BuiltUTC
	}
	return ix, nil
}

func loadMeta(dir string) (*Meta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func writeU32(w io.Writer, v uint32) {
	_ = binary.Write(w, binary.LittleEndian, v)
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fault.Wrap(fault.Internal, "read index header", err)
	}
	return v, nil
}
