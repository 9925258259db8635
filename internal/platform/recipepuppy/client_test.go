package recipepuppy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_ReturnsResultsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pasta", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Recipe Puppy","version":0.1,"results":[
			{"title":"Pasta Primavera","href":"http://example.com/1","ingredients":"pasta, vegetables","thumbnail":""},
			{"title":"Baked Ziti","href":"http://example.com/2","ingredients":"pasta, cheese","thumbnail":""}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	results, err := client.Search(context.Background(), "pasta")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Pasta Primavera", results[0].Title)
	assert.Equal(t, "pasta, vegetables", results[0].Ingredients)
	assert.Equal(t, "Baked Ziti", results[1].Title)
}

func TestSearch_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Search(context.Background(), "pasta")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSearch_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Search(context.Background(), "pasta")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSearch_MissingResultsField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Search(context.Background(), "pasta")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSearch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewClient(srv.URL).Search(context.Background(), "pasta")
	assert.ErrorIs(t, err, ErrUnreachable)
}
