package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qLeviathan/agentdb/metadata"
)

const sampleYAML = `
collections:
  - name: memories
    dimension: 128
    index_kind: hnsw
    distance_metric: cosine
    hnsw:
      m: 24
    quantization:
      enabled: true
      bits: 8
    schema:
      - name: agent
        type: string
        index: set
      - name: ts
        type: timestamp
        index: ordered
    cache:
      policy: lfu
      capacity: 512
  - name: scratch
    dimension: 8
snapshot:
  backend: local
  path: /tmp/agentdb
  compression: lz4
  upload_rate: 1048576
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, f.Collections, 2)

	mem := f.Collections[0]
	assert.Equal(t, "memories", mem.Name)
	assert.Equal(t, 128, mem.Dimension)
	assert.Equal(t, 24, mem.HNSW.M)
	// Unset HNSW knobs get defaults.
	assert.Equal(t, 200, mem.HNSW.EFConstruction)
	assert.Equal(t, 100, mem.HNSW.EFSearch)
	assert.Equal(t, 8, mem.Quantization.Bits)
	assert.Equal(t, "lfu", mem.Cache.Policy)

	scratch := f.Collections[1]
	assert.Equal(t, "flat", scratch.IndexKind)
	assert.Equal(t, "cosine", scratch.DistanceMetric)
	assert.Equal(t, 256, scratch.Buffer.MaxBatch)
	assert.Equal(t, "block", scratch.Buffer.Backpressure)

	assert.Equal(t, "lz4", f.Snapshot.Compression)
	assert.Equal(t, 1<<20, f.Snapshot.UploadRate)
	assert.Equal(t, 3, f.Snapshot.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, f.Snapshot.Retry.BaseDelay.Std())
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "ivf without nlist",
			yaml: "collections:\n  - name: a\n    dimension: 4\n    index_kind: ivf\n",
		},
		{
			name: "zero dimension",
			yaml: "collections:\n  - name: a\n",
		},
		{
			name: "unknown index kind",
			yaml: "collections:\n  - name: a\n    dimension: 4\n    index_kind: annoy\n",
		},
		{
			name: "unknown metric",
			yaml: "collections:\n  - name: a\n    dimension: 4\n    distance_metric: hamming\n",
		},
		{
			name: "bad quantization bits",
			yaml: "collections:\n  - name: a\n    dimension: 4\n    quantization: {enabled: true, bits: 6}\n",
		},
		{
			name: "duplicate collection",
			yaml: "collections:\n  - name: a\n    dimension: 4\n  - name: a\n    dimension: 4\n",
		},
		{
			name: "ttl policy without ttl",
			yaml: "collections:\n  - name: a\n    dimension: 4\n    cache: {policy: ttl}\n",
		},
		{
			name: "ordered index on string field",
			yaml: "collections:\n  - name: a\n    dimension: 4\n    schema:\n      - {name: f, type: string, index: ordered}\n",
		},
		{
			name: "unknown field type",
			yaml: "collections:\n  - name: a\n    dimension: 4\n    schema:\n      - {name: f, type: blob}\n",
		},
		{
			name: "local backend without path",
			yaml: "collections: []\nsnapshot: {backend: local}\n",
		},
		{
			name: "s3 backend without bucket",
			yaml: "collections: []\nsnapshot: {backend: s3, s3: {endpoint: localhost:9000}}\n",
		},
		{
			name: "negative upload rate",
			yaml: "collections: []\nsnapshot: {backend: memory, upload_rate: -1}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("AGENTDB_DIM", "16")

	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	data := "collections:\n  - name: a\n    dimension: ${AGENTDB_DIM}\n    index_kind: ${AGENTDB_KIND:-flat}\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Collections, 1)
	assert.Equal(t, 16, f.Collections[0].Dimension)
	assert.Equal(t, "flat", f.Collections[0].IndexKind)
}

func TestMetadataSchema(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	schema, kinds := f.Collections[0].MetadataSchema()
	require.Len(t, schema, 2)
	assert.Equal(t, metadata.TypeString, schema[0].Type)
	assert.Equal(t, metadata.IndexSet, kinds["agent"])
	assert.Equal(t, metadata.IndexOrdered, kinds["ts"])
}
