package firehose

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commitEventFixture = `{
	"did": "did:plc:abc123",
	"time_us": 1714579200000000,
	"kind": "commit",
	"commit": {
		"rev": "3kx",
		"operation": "create",
		"collection": "app.bsky.feed.post",
		"rkey": "3kabc",
		"record": {
			"$type": "app.bsky.feed.post",
			"text": "another great #sunset tonight",
			"createdAt": "2024-05-01T16:00:00Z",
			"facets": [
				{
					"index": {"byteStart": 14, "byteEnd": 21},
					"features": [{"$type": "app.bsky.richtext.facet#tag", "tag": "sunset"}]
				}
			]
		},
		"cid": "bafyevent"
	}
}`

func TestParseCommitEvent(t *testing.T) {
	var event jetstreamEvent
	require.NoError(t, json.Unmarshal([]byte(commitEventFixture), &event))

	assert.Equal(t, "did:plc:abc123", event.DID)
	assert.Equal(t, int64(1714579200000000), event.TimeUS)
	assert.Equal(t, "commit", event.Kind)
	require.NotNil(t, event.Commit)
	assert.Equal(t, "create", event.Commit.Operation)
	assert.Equal(t, "app.bsky.feed.post", event.Commit.Collection)
	require.NotNil(t, event.Commit.Record)
	assert.Equal(t, "another great #sunset tonight", event.Commit.Record.Text)
	require.Len(t, event.Commit.Record.Facets, 1)
}

func TestToFetchedPost(t *testing.T) {
	var event jetstreamEvent
	require.NoError(t, json.Unmarshal([]byte(commitEventFixture), &event))

	fp := toFetchedPost(&event)

	assert.Equal(t, "at://did:plc:abc123/app.bsky.feed.post/3kabc", fp.ID)
	assert.Equal(t, "another great #sunset tonight", fp.Text)
	assert.Equal(t, time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC), fp.CreatedAt)
	assert.Equal(t, "did:plc:abc123", fp.Author.Handle, "jetstream has no profile data, the DID stands in")
	assert.Empty(t, fp.Author.DisplayName)

	require.Len(t, fp.Hashtags, 1)
	assert.Equal(t, "#sunset", fp.Hashtags[0].Text)
}

func TestToFetchedPostTimestampFallback(t *testing.T) {
	var event jetstreamEvent
	require.NoError(t, json.Unmarshal([]byte(commitEventFixture), &event))
	event.Commit.Record.CreatedAt = "garbage"

	fp := toFetchedPost(&event)
	assert.Equal(t, time.UnixMicro(event.TimeUS).UTC(), fp.CreatedAt)
}

func TestMatchingTerms(t *testing.T) {
	terms := []string{"Sunset", "cats", ""}

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"case-insensitive match", "what a SUNSET", []string{"Sunset"}},
		{"multiple matches", "sunset with cats", []string{"Sunset", "cats"}},
		{"substring match", "catscade", []string{"cats"}},
		{"no match", "nothing relevant", nil},
		{"empty terms never match", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchingTerms(tt.text, terms))
		})
	}
}

func TestBuildURL(t *testing.T) {
	s := &Subscriber{url: "wss://jetstream.example/subscribe"}

	u := s.buildURL(0)
	assert.Equal(t, "wss://jetstream.example/subscribe?wantedCollections=app.bsky.feed.post", u)

	u = s.buildURL(1714579200000000)
	assert.Contains(t, u, "cursor=1714579200000000")
}
