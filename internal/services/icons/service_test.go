// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package icons

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIconServesGeneratedDefault(t *testing.T) {
	svc, err := NewService(t.TempDir(), "")
	require.NoError(t, err)

	data := svc.Icon()
	require.NotEmpty(t, data)

	_, err = png.Decode(bytes.NewReader(data))
	assert.NoError(t, err, "default icon must be a valid PNG")
}

func TestIconServesCachedFile(t *testing.T) {
	dataDir := t.TempDir()
	svc, err := NewService(dataDir, "")
	require.NoError(t, err)

	custom := testPNG(t)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, iconDirName, iconFileName), custom, 0o644))

	assert.Equal(t, custom, svc.Icon())
}

func TestRefreshFetchesAndCaches(t *testing.T) {
	custom := testPNG(t)
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(custom)
	}))
	defer server.Close()

	dataDir := t.TempDir()
	svc, err := NewService(dataDir, server.URL)
	require.NoError(t, err)

	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, 2, attempts, "transient failure should be retried")
	assert.Equal(t, custom, svc.Icon())

	// The fetched icon survives on disk for the next process.
	onDisk, err := os.ReadFile(filepath.Join(dataDir, iconDirName, iconFileName))
	require.NoError(t, err)
	assert.Equal(t, custom, onDisk)
}

func TestRefreshWithoutURLIsNoop(t *testing.T) {
	svc, err := NewService(t.TempDir(), "")
	require.NoError(t, err)
	assert.NoError(t, svc.Refresh(context.Background()))
}

func TestRefreshKeepsPreviousIconOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dataDir := t.TempDir()
	svc, err := NewService(dataDir, server.URL)
	require.NoError(t, err)

	before := svc.Icon()
	require.Error(t, svc.Refresh(context.Background()))
	assert.Equal(t, before, svc.Icon())
}
