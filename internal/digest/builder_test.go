package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/ibeckermayer/post4me/internal/types"
)

func TestBuildSelectsRecentActivity(t *testing.T) {
	b, err := New(10)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	now := time.Date(2025, 6, 1, 21, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	since := now.Add(-24 * time.Hour)

	d, err := b.Build(Input{
		Since: since,
		Posted: []types.Post{
			{ID: 1, Text: "shipped <it>", PostedAt: types.At(now.Add(-2 * time.Hour)), TweetURL: "https://x.com/u/status/1"},
			{ID: 2, Text: "old news", PostedAt: types.At(now.Add(-48 * time.Hour))},
		},
		Failed: []types.Post{
			{ID: 3, Text: "broken", Status: types.StatusError, ErrorMessage: "login expired", RetriesCount: 2, UpdatedAt: types.At(now.Add(-time.Hour))},
		},
		Upcoming: []types.Post{
			{ID: 5, Text: "later", ScheduledAt: types.At(now.Add(5 * time.Hour))},
			{ID: 4, Text: "soon", ScheduledAt: types.At(now.Add(time.Hour))},
		},
		Stats: &types.ProfileStats{
			Profile: types.Profile{FollowersCount: 1234},
			History: []types.FollowerSnapshot{{FollowersCount: 1200}, {FollowersCount: 1234}},
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []int64{1, 3, 4, 5}
	if len(d.PostIDs) != len(want) {
		t.Fatalf("post ids = %v, want %v", d.PostIDs, want)
	}
	for i := range want {
		if d.PostIDs[i] != want[i] {
			t.Fatalf("post ids = %v, want %v", d.PostIDs, want)
		}
	}
	if !strings.Contains(d.Subject, "1 posted, 1 failed, 2 upcoming") {
		t.Fatalf("unexpected subject %q", d.Subject)
	}
	if !strings.Contains(d.HTMLBody, "shipped &lt;it&gt;") {
		t.Fatalf("html body should escape post text")
	}
	if !strings.Contains(d.PlainBody, "Followers: 1,234 (+34)") {
		t.Fatalf("plain body missing follower trend:\n%s", d.PlainBody)
	}
	if !strings.Contains(d.PlainBody, "error: login expired (retries: 2)") {
		t.Fatalf("plain body missing failure:\n%s", d.PlainBody)
	}
}

func TestEmptyDigest(t *testing.T) {
	b, err := New(0)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	d, err := b.Build(Input{Since: time.Now()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !d.Empty() {
		t.Fatalf("digest with no posts should be empty")
	}
}
