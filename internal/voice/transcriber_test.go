// ABOUTME: Tests for the speech-to-text client.
// ABOUTME: Validates the multipart request shape and error handling.

package voice

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "voice.amr", header.Filename)

		fmt.Fprint(w, `{"text": "怎么用英文表达这句话"}`)
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL, "api-key", "")

	text, err := tr.Transcribe(context.Background(), "voice.amr", []byte("amr-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "怎么用英文表达这句话", text)
}

func TestTranscribe_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "unsupported audio format"}}`)
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL, "api-key", "")

	_, err := tr.Transcribe(context.Background(), "voice.amr", []byte("junk"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported audio format")
}
