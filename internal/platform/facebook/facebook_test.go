package facebook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/platform"
)

func TestPublish_Photo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/page-1/photos", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "https://cdn/img.png", r.PostForm.Get("url"))
		assert.Equal(t, "caption", r.PostForm.Get("caption"))
		_, _ = w.Write([]byte(`{"id":"photo-1","post_id":"page-1_post-2"}`))
	}))
	defer server.Close()

	p := New("tok", server.URL, server.Client())
	res, err := p.Publish(context.Background(), platform.Content{
		PostID: uuid.New(), AccountID: "page-1", Text: "caption", ImageURL: "https://cdn/img.png",
	})

	require.NoError(t, err)
	assert.Equal(t, "page-1_post-2", res.PostRef)
	assert.Equal(t, "https://www.facebook.com/page-1_post-2", res.URL)
}

func TestPublish_TextOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/page-1/feed", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "caption", r.PostForm.Get("message"))
		_, _ = w.Write([]byte(`{"id":"page-1_post-3"}`))
	}))
	defer server.Close()

	res, err := New("tok", server.URL, server.Client()).Publish(context.Background(), platform.Content{
		AccountID: "page-1", Text: "caption",
	})

	require.NoError(t, err)
	assert.Equal(t, "page-1_post-3", res.PostRef)
}

func TestPublish_Prerequisites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	_, err := New("", server.URL, server.Client()).Publish(context.Background(), platform.Content{AccountID: "p"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New("tok", server.URL, server.Client()).Publish(context.Background(), platform.Content{})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestPublish_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New("tok", server.URL, server.Client()).Publish(context.Background(), platform.Content{AccountID: "p", Text: "x"})
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestAnalytics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page-1_post-2":
			_, _ = w.Write([]byte(`{
				"likes":{"summary":{"total_count":5}},
				"comments":{"summary":{"total_count":1}},
				"shares":{"count":4}
			}`))
		case "/page-1_post-2/insights":
			_, _ = w.Write([]byte(`{"data":[
				{"name":"post_impressions","values":[{"value":100}]},
				{"name":"post_impressions_unique","values":[{"value":90}]}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	m, err := New("tok", server.URL, server.Client()).Analytics(context.Background(), "page-1_post-2")

	require.NoError(t, err)
	assert.Equal(t, int64(5), m.Likes)
	assert.Equal(t, int64(1), m.Comments)
	assert.Equal(t, int64(4), m.Shares)
	assert.Equal(t, int64(90), m.Reach)
	assert.Equal(t, int64(100), m.Impressions)
	assert.InDelta(t, 10.0, m.EngagementRate(), 1e-9)
}
