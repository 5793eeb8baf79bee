package textindex

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// ChunkDoc is the keyword-index view of one chunk.
type ChunkDoc struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
}

// Indexer maintains a keyword index of chunk docs alongside the vector
// store. File replacement deletes the file's superseded docs first.
type Indexer interface {
	ReplaceFileDocs(path string, docs []ChunkDoc) error
	DeleteFileDocs(path string) error
	Search(query string, limit int) ([]Hit, error)
	Close() error
}

// Hit is one keyword search result.
type Hit struct {
	ID    string
	Path  string
	Score float64
}

type bleveIndexer struct {
	index bleve.Index
}

// Open opens an existing index at dir or creates a new one.
func Open(dir string) (Indexer, error) {
	index, err := bleve.Open(dir)
	if err == nil {
		return &bleveIndexer{index: index}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create text index dir: %w", err)
	}
	index, err = bleve.New(dir, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &bleveIndexer{index: index}, nil
}

func (b *bleveIndexer) ReplaceFileDocs(path string, docs []ChunkDoc) error {
	if err := b.DeleteFileDocs(path); err != nil {
		return err
	}
	batch := b.index.NewBatch()
	for i, doc := range docs {
		id := fmt.Sprintf("chunk:%s:%d", path, i)
		if err := batch.Index(id, doc); err != nil {
			return err
		}
	}
	return b.index.Batch(batch)
}

func (b *bleveIndexer) DeleteFileDocs(path string) error {
	ids, err := b.docIDsByPath(path)
	if err != nil {
		return err
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

func (b *bleveIndexer) Search(query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"path"}
	res, err := b.index.Search(req)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		path, _ := h.Fields["path"].(string)
		hits = append(hits, Hit{ID: h.ID, Path: path, Score: h.Score})
	}
	return hits, nil
}

func (b *bleveIndexer) docIDsByPath(path string) ([]string, error) {
	query := bleve.NewMatchQuery(path)
	query.SetField("path")
	req := bleve.NewSearchRequestOptions(query, 1000, 0, false)
	req.Fields = []string{"path"}
	res, err := b.index.Search(req)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, hit := range res.Hits {
		if val, ok := hit.Fields["path"].(string); ok && val == path {
			ids = append(ids, hit.ID)
		}
	}
	return ids, nil
}

func (b *bleveIndexer) Close() error {
	return b.index.Close()
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "en"
	indexMapping.DefaultField = "content"

	docMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Store = false
	contentField.Index = true
	docMapping.AddFieldMappingsAt("content", contentField)

	pathField := bleve.NewTextFieldMapping()
	pathField.Store = true
	pathField.Index = true
	docMapping.AddFieldMappingsAt("path", pathField)

	lineField := bleve.NewNumericFieldMapping()
	lineField.Store = true
	lineField.Index = false
	docMapping.AddFieldMappingsAt("line_start", lineField)
	docMapping.AddFieldMappingsAt("line_end", lineField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}
