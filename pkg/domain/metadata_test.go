package domain

import (
	"reflect"
	"testing"
)

func TestNormalizeMetadataCanonical(t *testing.T) {
	raw := []byte(`{"schemaVersion":1,"vectorChunkIds":["a","b"],"vectorChunkCount":2,"chunked":true,"imageCount":1}`)
	md := NormalizeMetadata(raw)
	if !reflect.DeepEqual(md.VectorChunkIDs, []string{"a", "b"}) {
		t.Fatalf("chunk ids = %v", md.VectorChunkIDs)
	}
	if md.VectorChunkCount != 2 || !md.Chunked || md.ImageCount != 1 {
		t.Fatalf("unexpected metadata: %+v", md)
	}
}

func TestNormalizeMetadataLegacyKeys(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"typo capitalization", `{"vectorChunkIDs":["x","y"]}`, []string{"x", "y"}},
		{"snake case", `{"vector_chunk_ids":["x"]}`, []string{"x"}},
		{"oldest spelling", `{"chunkIds":["x","y","z"]}`, []string{"x", "y", "z"}},
		{"canonical wins over legacy", `{"vectorChunkIds":["a"],"vectorChunkIDs":["x"]}`, []string{"a"}},
		{"canonical wins regardless of key order", `{"vectorChunkIDs":["x"],"vectorChunkIds":["a"]}`, []string{"a"}},
		{"first legacy spelling wins among legacy", `{"chunkIds":["z"],"vectorChunkIDs":["x"]}`, []string{"x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			md := NormalizeMetadata([]byte(tc.raw))
			if !reflect.DeepEqual(md.VectorChunkIDs, tc.want) {
				t.Fatalf("chunk ids = %v, want %v", md.VectorChunkIDs, tc.want)
			}
			if md.SchemaVersion != MetadataSchemaVersion {
				t.Fatalf("schema version = %d", md.SchemaVersion)
			}
			if md.VectorChunkCount != len(tc.want) {
				t.Fatalf("chunk count = %d", md.VectorChunkCount)
			}
		})
	}
}

func TestNormalizeMetadataEmpty(t *testing.T) {
	md := NormalizeMetadata(nil)
	if md.VectorChunkIDs == nil || len(md.VectorChunkIDs) != 0 {
		t.Fatalf("want empty non-nil chunk ids, got %v", md.VectorChunkIDs)
	}
	if md.Chunked || md.VectorChunkCount != 0 {
		t.Fatalf("unexpected metadata: %+v", md)
	}
}

func TestMetadataWithChunks(t *testing.T) {
	md := NewMetadata(2).WithChunks([]string{"c1", "c2", "c3"})
	if md.VectorChunkCount != 3 || !md.Chunked || md.ImageCount != 2 {
		t.Fatalf("unexpected metadata: %+v", md)
	}
	single := NewMetadata(0).WithChunks([]string{"c1"})
	if single.Chunked {
		t.Fatal("single chunk must not be marked chunked")
	}
}
