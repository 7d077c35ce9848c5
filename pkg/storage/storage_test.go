package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestComputeCID(t *testing.T) {
	a, err := ComputeCID([]byte("mangrove survey"))
	require.NoError(t, err)
	b, err := ComputeCID([]byte("mangrove survey"))
	require.NoError(t, err)
	c, err := ComputeCID([]byte("seagrass survey"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a.String(), "Qm"))

	parsed, err := ParseCID(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestParseCID_Invalid(t *testing.T) {
	_, err := ParseCID("")
	assert.Error(t, err)
	_, err = ParseCID("not-a-cid")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.Upload(ctx, "report.pdf", strings.NewReader("report"))
	require.NoError(t, err)
	data, err := s.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "report", string(data))

	_, err = s.Fetch(ctx, "QmMissing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, s.Len())
}

func TestPinataClient_Upload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pinning/pinFileToIPFS", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "site-plan.pdf", header.Filename)
		assert.Equal(t, "plan", string(body))
		assert.Contains(t, r.FormValue("pinataMetadata"), "site-plan.pdf")

		_ = json.NewEncoder(w).Encode(pinFileResponse{IpfsHash: "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", PinSize: 4})
	}))
	defer srv.Close()

	client := NewIPFSClient(PinataConfig{APIURL: srv.URL, JWT: "secret"})
	id, err := client.Upload(context.Background(), "site-plan.pdf", strings.NewReader("plan"))
	require.NoError(t, err)
	assert.Equal(t, "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", id)
}

func TestPinataClient_StatusErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("try later"))
	}))
	defer srv.Close()

	client := NewIPFSClient(PinataConfig{APIURL: srv.URL, GatewayURL: srv.URL})
	_, err := client.Upload(context.Background(), "a.txt", strings.NewReader("a"))
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Contains(t, err.Error(), "service unavailable")

	status = http.StatusUnauthorized
	_, err = client.Upload(context.Background(), "a.txt", strings.NewReader("a"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "unavailable")

	status = http.StatusNotFound
	_, err = client.Fetch(context.Background(), "QmGone")
	assert.True(t, errors.Is(err, ErrNotFound))
}

type brokenStore struct{ err error }

func (b brokenStore) Upload(context.Context, string, io.Reader) (string, error) { return "", b.err }
func (b brokenStore) Fetch(context.Context, string) ([]byte, error)            { return nil, b.err }

func TestMirroredStore(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	mirror := NewMemoryStore()
	m := NewMirroredStore(primary, []Mirror{mirror}, zap.NewNop())

	id, err := m.Upload(ctx, "doc.txt", strings.NewReader("doc"))
	require.NoError(t, err)
	assert.Equal(t, 1, mirror.Len())

	fromMirror, err := mirror.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "doc", string(fromMirror))

	down := NewMirroredStore(brokenStore{err: errors.New("connection refused")}, []Mirror{mirror}, zap.NewNop())
	data, err := down.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "doc", string(data))

	_, err = down.Fetch(ctx, "QmUnknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "documents/QmX", ObjectKey("", "QmX"))
	assert.Equal(t, "registry/documents/QmX", ObjectKey("registry", "QmX"))
}
