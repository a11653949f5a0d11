package registry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "detection-quant-bench/internal/config"
	"detection-quant-bench/internal/core/domain"
)

func TestHTTPRegistry_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/blobs/models/tiny.pb.gz":
			_, _ = w.Write([]byte("model-bytes"))
		case "/blobs/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reg := NewHTTPRegistry(srv.URL+"/", "blobs/", time.Second)

	rc, err := reg.Fetch(context.Background(), "models/tiny.pb.gz")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "model-bytes", string(body))

	_, err = reg.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)

	_, err = reg.Fetch(context.Background(), "broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrBlobNotFound)
}

const noSuchKey = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

func TestS3Registry_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/weights/v1/models/tiny.pb.gz" {
			_, _ = w.Write([]byte("s3-model"))
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(noSuchKey))
	}))
	defer srv.Close()

	reg, err := NewS3Registry(context.Background(), appconfig.S3Config{
		Bucket:          "weights",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}, "v1/")
	require.NoError(t, err)

	rc, err := reg.Fetch(context.Background(), "models/tiny.pb.gz")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "s3-model", string(body))

	_, err = reg.Fetch(context.Background(), "models/missing")
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)
}
