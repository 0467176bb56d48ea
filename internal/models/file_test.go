package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileResourceDecode(t *testing.T) {
	raw := `[
		{"name":"docs","type":"x-directory/normal","size":0,"lastModified":1700000000000},
		{"name":"a.txt","type":"text/plain","size":12,"lastModified":1700000000123,"eTag":"\"121700000000123\""}
	]`

	var entries []FileResource
	require.NoError(t, json.Unmarshal([]byte(raw), &entries))
	require.Len(t, entries, 2)

	assert.True(t, entries[0].IsDirectory())
	assert.Empty(t, entries[0].ETag)
	assert.False(t, entries[1].IsDirectory())
	assert.Equal(t, `"121700000000123"`, entries[1].ETag)
	assert.Equal(t, int64(12), entries[1].Size)
}

func TestFileResourceHTTPLastModified(t *testing.T) {
	f := FileResource{LastModified: time.Date(2024, 3, 5, 10, 4, 5, 0, time.UTC).UnixMilli()}
	assert.Equal(t, "Tue, 05 Mar 2024 10:04:05 GMT", f.HTTPLastModified())

	assert.Empty(t, (&FileResource{}).HTTPLastModified())
}

func TestListingDecode(t *testing.T) {
	raw := `{"uri":"/files/docs/","parent":"/files/","files":[
		{"name":"d","type":"x-directory/normal"},
		{"name":"f","type":"application/octet-stream","size":3},
		{"name":"e","type":"x-directory/normal"}
	],"size":3,"quota":0}`

	var l Listing
	require.NoError(t, json.Unmarshal([]byte(raw), &l))
	assert.True(t, l.HasParent())
	assert.Len(t, l.Directories(), 2)
	require.Len(t, l.Regular(), 1)
	assert.Equal(t, "f", l.Regular()[0].Name)
	assert.Zero(t, l.Quota)

	var root Listing
	require.NoError(t, json.Unmarshal([]byte(`{"uri":"/files/","parent":null,"files":[]}`), &root))
	assert.False(t, root.HasParent())
}
