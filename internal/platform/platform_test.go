package platform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/telemetry"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(
		NewDryRun(domain.PlatformTwitter, telemetry.Discard()),
		NewDryRun(domain.PlatformInstagram, telemetry.Discard()),
	)

	p, err := r.Get(domain.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformInstagram, p.Platform())

	_, err = r.Get(domain.PlatformLinkedIn)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.True(t, IsNotRegistered(err))
	assert.True(t, domain.IsFatal(err))

	assert.Equal(t, []domain.Platform{domain.PlatformInstagram, domain.PlatformTwitter}, r.Platforms())
}

func TestDryRun(t *testing.T) {
	d := NewDryRun(domain.PlatformFacebook, telemetry.Discard())
	id := uuid.New()

	res, err := d.Publish(context.Background(), Content{PostID: id, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "dryrun-facebook-"+id.String(), res.PostRef)
	assert.NotEmpty(t, res.URL)

	m, err := d.Analytics(context.Background(), res.PostRef)
	require.NoError(t, err)
	assert.Zero(t, m.Impressions)
}

func TestGraphInsights(t *testing.T) {
	var g GraphInsights
	require.NoError(t, json.Unmarshal([]byte(`{"data":[
		{"name":"impressions","values":[{"value":120}]},
		{"name":"reach","total_value":{"value":80}},
		{"name":"breakdown","values":[{"value":{"a":1}}]}
	]}`), &g))

	assert.Equal(t, int64(120), g.Value("impressions"))
	assert.Equal(t, int64(80), g.Value("reach"))
	assert.Zero(t, g.Value("breakdown"))
	assert.Zero(t, g.Value("missing"))
	assert.Equal(t, int64(120), g.Raw()["impressions"])
}

func TestRequire(t *testing.T) {
	assert.NoError(t, Require("x", "token"))
	assert.ErrorIs(t, Require("", "token"), domain.ErrConfiguration)
}
