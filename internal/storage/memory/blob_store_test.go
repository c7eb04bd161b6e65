package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObjectReturnsURI(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "pages/abc", "text/html", bytes.NewReader([]byte("<html>")))
	require.NoError(t, err)
	require.Equal(t, "memory://pages/abc", uri)

	content, ok := store.GetObject("pages/abc")
	require.True(t, ok)
	require.Equal(t, []byte("<html>"), content)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}

func TestPutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	src := []byte("original")
	_, err := store.PutObject(context.Background(), "p", "", bytes.NewReader(src))
	require.NoError(t, err)

	src[0] = 'X'
	content, _ := store.GetObject("p")
	require.Equal(t, []byte("original"), content)
}
