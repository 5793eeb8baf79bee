package chunker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrBinaryContent marks input that cannot be chunked as text.
var ErrBinaryContent = errors.New("binary content")

// Chunk is one fixed-size window of a file. Immutable once created.
type Chunk struct {
	FilePath  string
	Index     int
	Text      string
	StartByte int
	EndByte   int
	StartLine int // 1-based, inclusive
	EndLine   int
	Hash      string
}

// Chunker splits file content into overlapping line windows with stable
// indices. The zero value is not usable; use New.
type Chunker struct {
	lines   int
	overlap int
}

// New returns a Chunker producing windows of the given line count with the
// given line overlap between consecutive chunks.
func New(lines, overlap int) *Chunker {
	if lines <= 0 {
		lines = 60
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= lines {
		overlap = lines - 1
	}
	return &Chunker{lines: lines, overlap: overlap}
}

// ChunkFile splits content into chunks. The chunk hash is derived from the
// path, chunk index, and text, so identical content at the same position
// hashes identically across runs, branches, and commits.
func (c *Chunker) ChunkFile(path string, content []byte) ([]Chunk, error) {
	if isBinary(content) {
		return nil, fmt.Errorf("%s: %w", path, ErrBinaryContent)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}

	lines := splitLines(content)
	step := c.lines - c.overlap

	var out []Chunk
	index := 0
	for start := 0; start < len(lines); start += step {
		end := start + c.lines
		if end > len(lines) {
			end = len(lines)
		}
		startByte := lines[start].offset
		endByte := lines[end-1].offset + len(lines[end-1].text)
		text := string(content[startByte:endByte])
		if strings.TrimSpace(text) != "" {
			out = append(out, Chunk{
				FilePath:  path,
				Index:     index,
				Text:      text,
				StartByte: startByte,
				EndByte:   endByte,
				StartLine: start + 1,
				EndLine:   end,
				Hash:      HashChunk(path, index, text),
			})
			index++
		}
		if end == len(lines) {
			break
		}
	}
	return out, nil
}

// HashChunk computes the deduplication key for one chunk.
func HashChunk(path string, index int, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00", path, index)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// HashContent computes the whole-file content hash used for diffing.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

type line struct {
	offset int
	text   string
}

func splitLines(content []byte) []line {
	var lines []line
	start := 0
	for i, b := range content {
		if b == '\n' {
			lines = append(lines, line{offset: start, text: string(content[start : i+1])})
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, line{offset: start, text: string(content[start:])})
	}
	return lines
}

// isBinary uses the same heuristic git does: a NUL byte in the first 8000
// bytes marks the content binary.
func isBinary(content []byte) bool {
	probe := content
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	return bytes.IndexByte(probe, 0) >= 0
}
