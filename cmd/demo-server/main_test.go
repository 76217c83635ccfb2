package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellnesskit/core"
)

func TestDemoHandlerSeedsCatalog(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler, svc, err := newDemoHandler(context.Background(), logger)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	yoga, err := svc.Activity(context.Background(), 33)
	require.NoError(t, err)
	assert.Equal(t, core.Activity{ID: 33, Name: "Yoga", Category: "Recovery", XPValue: 5}, yoga)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/activities/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Daily Steps 5k+")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/users/demo/records", strings.NewReader(`{"activity_id":2}`)))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
