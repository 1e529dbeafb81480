package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidate(t *testing.T) {
	tests := []struct {
		name    string
		schema  Schema
		wantErr bool
	}{
		{
			name:   "valid",
			schema: Schema{{Name: "genre", Type: TypeString}, {Name: "bpm", Type: TypeNumber}},
		},
		{
			name:    "duplicate field",
			schema:  Schema{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeNumber}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			schema:  Schema{{Name: "a", Type: FieldType("blob")}},
			wantErr: true,
		},
		{
			name:    "empty name",
			schema:  Schema{{Name: "", Type: TypeString}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSchemaValidateDocument(t *testing.T) {
	schema := Schema{
		{Name: "genre", Type: TypeString},
		{Name: "bpm", Type: TypeNumber},
		{Name: "tags", Type: TypeStringSet},
		{Name: "created", Type: TypeTimestamp},
		{Name: "payload", Type: TypeJSON},
	}

	t.Run("Valid", func(t *testing.T) {
		doc := Document{
			"genre":   String("jazz"),
			"bpm":     Int(120),
			"tags":    StringSet("swing", "live"),
			"created": Time(time.Now()),
			"payload": JSON([]byte(`{"x":1}`)),
		}
		assert.NoError(t, schema.ValidateDocument(doc))
	})

	t.Run("UndeclaredField", func(t *testing.T) {
		err := schema.ValidateDocument(Document{"mood": String("dark")})
		var sv *ErrSchemaViolation
		require.ErrorAs(t, err, &sv)
		assert.Equal(t, "mood", sv.Field)
	})

	t.Run("WrongKind", func(t *testing.T) {
		err := schema.ValidateDocument(Document{"bpm": String("fast")})
		assert.Error(t, err)
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		err := schema.ValidateDocument(Document{"payload": JSON([]byte(`{`))})
		assert.Error(t, err)
	})

	t.Run("NullAllowed", func(t *testing.T) {
		assert.NoError(t, schema.ValidateDocument(Document{"genre": Null()}))
	})
}

func TestFilterMatches(t *testing.T) {
	doc := Document{
		"genre": String("jazz"),
		"bpm":   Int(120),
		"tags":  StringSet("swing", "live"),
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"eq hit", Eq("genre", String("jazz")), true},
		{"eq miss", Eq("genre", String("rock")), false},
		{"neq", Neq("genre", String("rock")), true},
		{"gt hit", Gt("bpm", Int(100)), true},
		{"gt boundary", Gt("bpm", Int(120)), false},
		{"gte boundary", Gte("bpm", Int(120)), true},
		{"lt", Lt("bpm", Float(121.5)), true},
		{"range hit", Range("bpm", Int(100), Int(140)), true},
		{"range miss", Range("bpm", Int(121), Int(140)), false},
		{"contains any hit", ContainsAny("tags", "live", "studio"), true},
		{"contains any miss", ContainsAny("tags", "studio"), false},
		{"contains all hit", ContainsAll("tags", "swing", "live"), true},
		{"contains all miss", ContainsAll("tags", "swing", "studio"), false},
		{"missing field", Eq("mood", String("dark")), false},
		{"type confusion", Gt("genre", Int(1)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(doc))
		})
	}
}

func TestFilterSetMatches(t *testing.T) {
	doc := Document{"genre": String("jazz"), "bpm": Int(120)}

	assert.True(t, And(Eq("genre", String("jazz")), Gte("bpm", Int(100))).Matches(doc))
	assert.False(t, And(Eq("genre", String("jazz")), Gt("bpm", Int(130))).Matches(doc))

	var nilSet *FilterSet
	assert.True(t, nilSet.Matches(doc))
}

func TestFilterSetKeyStable(t *testing.T) {
	a := And(Eq("genre", String("jazz")), Range("bpm", Int(100), Int(140)))
	b := And(Eq("genre", String("jazz")), Range("bpm", Int(100), Int(140)))
	c := And(Eq("genre", String("rock")))

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Empty(t, (*FilterSet)(nil).Key())
}

func TestFieldIndexes(t *testing.T) {
	schema := Schema{
		{Name: "genre", Type: TypeString},
		{Name: "bpm", Type: TypeNumber},
		{Name: "tags", Type: TypeStringSet},
	}

	newIndexes := func(t *testing.T) *FieldIndexes {
		fi, err := NewFieldIndexes(schema, map[string]IndexKind{
			"genre": IndexSet,
			"bpm":   IndexOrdered,
			"tags":  IndexSet,
		})
		require.NoError(t, err)
		return fi
	}

	seed := func(fi *FieldIndexes) {
		fi.Put(1, nil, Document{"genre": String("jazz"), "bpm": Int(90), "tags": StringSet("live")})
		fi.Put(2, nil, Document{"genre": String("jazz"), "bpm": Int(140), "tags": StringSet("studio", "live")})
		fi.Put(3, nil, Document{"genre": String("rock"), "bpm": Int(120), "tags": StringSet("studio")})
	}

	t.Run("EqualityViaSetIndex", func(t *testing.T) {
		fi := newIndexes(t)
		seed(fi)

		bm, ok := fi.Candidates(And(Eq("genre", String("jazz"))))
		require.True(t, ok)
		assert.ElementsMatch(t, []uint32{1, 2}, bm.ToArray())
	})

	t.Run("RangeViaOrderedIndex", func(t *testing.T) {
		fi := newIndexes(t)
		seed(fi)

		bm, ok := fi.Candidates(And(Range("bpm", Int(100), Int(140))))
		require.True(t, ok)
		assert.ElementsMatch(t, []uint32{2, 3}, bm.ToArray())

		bm, ok = fi.Candidates(And(Gt("bpm", Int(120))))
		require.True(t, ok)
		assert.ElementsMatch(t, []uint32{2}, bm.ToArray())

		bm, ok = fi.Candidates(And(Lte("bpm", Int(120))))
		require.True(t, ok)
		assert.ElementsMatch(t, []uint32{1, 3}, bm.ToArray())
	})

	t.Run("ConjunctionIntersects", func(t *testing.T) {
		fi := newIndexes(t)
		seed(fi)

		bm, ok := fi.Candidates(And(
			Eq("genre", String("jazz")),
			Gte("bpm", Int(100)),
			ContainsAny("tags", "studio"),
		))
		require.True(t, ok)
		assert.ElementsMatch(t, []uint32{2}, bm.ToArray())
	})

	t.Run("ContainsAll", func(t *testing.T) {
		fi := newIndexes(t)
		seed(fi)

		bm, ok := fi.Candidates(And(ContainsAll("tags", "studio", "live")))
		require.True(t, ok)
		assert.ElementsMatch(t, []uint32{2}, bm.ToArray())
	})

	t.Run("UnindexedFieldFallsBack", func(t *testing.T) {
		fi, err := NewFieldIndexes(schema, map[string]IndexKind{"bpm": IndexOrdered})
		require.NoError(t, err)
		seed(fi)

		_, ok := fi.Candidates(And(Eq("genre", String("jazz"))))
		assert.False(t, ok)
	})

	t.Run("RemoveAndUpdate", func(t *testing.T) {
		fi := newIndexes(t)
		seed(fi)

		fi.Remove(2, Document{"genre": String("jazz"), "bpm": Int(140), "tags": StringSet("studio", "live")})
		bm, ok := fi.Candidates(And(Eq("genre", String("jazz"))))
		require.True(t, ok)
		assert.ElementsMatch(t, []uint32{1}, bm.ToArray())

		// Re-point id 3 to a new genre.
		fi.Put(3,
			Document{"genre": String("rock"), "bpm": Int(120), "tags": StringSet("studio")},
			Document{"genre": String("jazz"), "bpm": Int(121), "tags": StringSet("studio")},
		)
		bm, ok = fi.Candidates(And(Eq("genre", String("rock"))))
		require.True(t, ok)
		assert.True(t, bm.IsEmpty())
	})

	t.Run("InvalidDeclarations", func(t *testing.T) {
		_, err := NewFieldIndexes(schema, map[string]IndexKind{"missing": IndexSet})
		assert.Error(t, err)

		_, err = NewFieldIndexes(schema, map[string]IndexKind{"genre": IndexOrdered})
		assert.Error(t, err)
	})
}
