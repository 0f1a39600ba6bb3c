package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/gnis/connector"
	"github.com/teranos/gnis/errors"
)

func TestDecodeLayouts(t *testing.T) {
	tests := []struct {
		name string
		data string
		ids  []string
	}{
		{"array", `[{"id":"a"},{"id":"b"}]`, []string{"a", "b"}},
		{"envelope", `{"data":[{"id":"a"}],"metadata":{"total":1}}`, []string{"a"}},
		{"ndjson", "{\"id\":\"a\"}\n\n{\"id\":\"b\"}\n{\"id\":\"c\"}", []string{"a", "b", "c"}},
		{"single object", `{"id":"solo","type":"Feature"}`, []string{"solo"}},
		{"empty", "  \n", nil},
		{"empty array", `[]`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := Decode([]byte(tt.data))
			require.NoError(t, err)

			var ids []string
			if tt.ids != nil {
				ids = []string{}
			}
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`"just a string"`))
	assert.Error(t, err)

	_, err = Decode([]byte(`[{"id":"a"}, 7]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 1")

	_, err = Decode([]byte("{\"id\":\"a\"}\n{broken\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestFetchGeographicData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"a\"}\n{\"id\":\"b\"}\n"), 0o644))

	c := New(path, zaptest.NewLogger(t).Sugar())
	resp, err := c.FetchGeographicData(context.Background(), connector.Params{})
	require.NoError(t, err)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, connector.Metadata{Total: 2, Page: 1, PerPage: 2}, resp.Metadata)
}

func TestFetchGeographicDataMissingFile(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "nope.json"), nil)
	_, err := c.FetchGeographicData(context.Background(), connector.Params{})
	assert.True(t, errors.IsNotFoundError(err))
	assert.Equal(t, connector.CodeConnectorError, connector.Classify(err))
}

func TestFetchGeographicDataCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New("unused.json", nil).FetchGeographicData(ctx, connector.Params{})
	assert.ErrorIs(t, err, context.Canceled)
}
