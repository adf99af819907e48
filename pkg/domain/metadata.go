package domain

import "encoding/json"

// MetadataSchemaVersion is stamped on every metadata bag written going
// forward. Version 0 bags come from the era before the schema existed and
// may carry misspelled keys; NormalizeMetadata folds them in on read.
const MetadataSchemaVersion = 1

// Metadata is the versioned per-message metadata bag. The vectorChunkIds /
// vectorChunkCount / chunked / imageCount field names are a compatibility
// contract with external repair and debugging tooling.
type Metadata struct {
	SchemaVersion    int      `json:"schemaVersion"`
	VectorChunkIDs   []string `json:"vectorChunkIds"`
	VectorChunkCount int      `json:"vectorChunkCount"`
	Chunked          bool     `json:"chunked"`
	ImageCount       int      `json:"imageCount"`
}

// legacy spellings of the chunk-ID list that coexisted in old rows.
var legacyChunkIDKeys = []string{"vectorChunkIDs", "vector_chunk_ids", "chunkIds"}

// NewMetadata returns an empty bag at the current schema version. The chunk
// fields are placeholders until vector indexing completes.
func NewMetadata(imageCount int) Metadata {
	return Metadata{
		SchemaVersion:  MetadataSchemaVersion,
		VectorChunkIDs: []string{},
		ImageCount:     imageCount,
	}
}

// WithChunks returns a copy carrying the resolved chunk linkage.
func (m Metadata) WithChunks(chunkIDs []string) Metadata {
	m.SchemaVersion = MetadataSchemaVersion
	m.VectorChunkIDs = append([]string{}, chunkIDs...)
	m.VectorChunkCount = len(chunkIDs)
	m.Chunked = len(chunkIDs) > 1
	return m
}

// NormalizeMetadata decodes a raw metadata document, folding legacy key
// spellings into the canonical schema. Rows written before the schema
// existed carry chunk IDs under misspelled keys; the canonical key wins when
// both are present. The result is always stamped with the current version so
// rewrites never reproduce the legacy spellings.
//
// The chunk-ID list is resolved by exact key lookup rather than struct
// decoding: encoding/json matches keys case-insensitively, which would let a
// legacy spelling bind to the canonical field and override it.
func NormalizeMetadata(raw []byte) Metadata {
	md := Metadata{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &md)
	}
	md.VectorChunkIDs = nil
	var bag map[string]json.RawMessage
	if err := json.Unmarshal(raw, &bag); err == nil {
		keys := append([]string{"vectorChunkIds"}, legacyChunkIDKeys...)
		for _, key := range keys {
			v, ok := bag[key]
			if !ok {
				continue
			}
			var ids []string
			if err := json.Unmarshal(v, &ids); err == nil && len(ids) > 0 {
				md.VectorChunkIDs = ids
				break
			}
		}
	}
	if md.VectorChunkIDs == nil {
		md.VectorChunkIDs = []string{}
	}
	if md.VectorChunkCount == 0 {
		md.VectorChunkCount = len(md.VectorChunkIDs)
	}
	if !md.Chunked && len(md.VectorChunkIDs) > 1 {
		md.Chunked = true
	}
	md.SchemaVersion = MetadataSchemaVersion
	return md
}
