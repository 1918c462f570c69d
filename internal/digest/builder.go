package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ibeckermayer/post4me/internal/types"
)

// Builder creates the daily activity email
type Builder struct {
	maxPosts int
	template *template.Template
	now      func() time.Time
}

// New creates a new digest builder
func New(maxPosts int) (*Builder, error) {
	tmpl, err := template.New("digest").Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if maxPosts <= 0 {
		maxPosts = 20
	}

	return &Builder{
		maxPosts: maxPosts,
		template: tmpl,
		now:      time.Now,
	}, nil
}

// SetClock overrides the time the digest is built at.
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

// Input is what the day looked like.
type Input struct {
	Since    time.Time
	Posted   []types.Post
	Failed   []types.Post
	Upcoming []types.Post
	Stats    *types.ProfileStats
}

// Digest represents a compiled digest ready for sending
type Digest struct {
	Subject   string
	HTMLBody  string
	PlainBody string
	PostIDs   []int64
	CreatedAt time.Time
}

// Empty reports whether nothing happened worth mailing.
func (d *Digest) Empty() bool {
	return len(d.PostIDs) == 0
}

// DigestData is the template data structure
type DigestData struct {
	Title    string
	Date     string
	Posted   []PostData
	Failed   []PostData
	Upcoming []PostData
	Stats    StatsData
}

// PostData represents a post in the digest template
type PostData struct {
	ID      int64
	Content string
	When    string
	Error   string
	Retries int
	URL     string
}

// StatsData contains digest statistics
type StatsData struct {
	Followers     string
	FollowerDelta string
	HasTrend      bool
}

// Build renders the activity since in.Since. Posted and failed posts are
// limited to those updated after Since.
func (b *Builder) Build(in Input) (*Digest, error) {
	now := b.now()

	posted := recent(in.Posted, in.Since, func(p types.Post) time.Time {
		if !p.PostedAt.IsZero() {
			return p.PostedAt.Time
		}
		return p.UpdatedAt.Time
	})
	failed := recent(in.Failed, in.Since, func(p types.Post) time.Time { return p.UpdatedAt.Time })
	upcoming := slices.Clone(in.Upcoming)
	slices.SortStableFunc(upcoming, func(a, b types.Post) int {
		return a.ScheduledAt.Compare(b.ScheduledAt.Time)
	})

	data := DigestData{
		Title:    "Your post4me day",
		Date:     now.Format("Monday, January 2"),
		Posted:   b.postData(posted, now, func(p types.Post) time.Time { return p.PostedAt.Time }),
		Failed:   b.postData(failed, now, func(p types.Post) time.Time { return p.UpdatedAt.Time }),
		Upcoming: b.postData(upcoming, now, func(p types.Post) time.Time { return p.ScheduledAt.Time }),
	}
	if in.Stats != nil {
		data.Stats.Followers = humanize.Comma(int64(in.Stats.Profile.FollowersCount))
		if trend, ok := in.Stats.Trend(); ok {
			data.Stats.HasTrend = true
			data.Stats.FollowerDelta = fmt.Sprintf("%+d", trend.Followers)
		}
	}

	var ids []int64
	for _, group := range [][]PostData{data.Posted, data.Failed, data.Upcoming} {
		for _, p := range group {
			ids = append(ids, p.ID)
		}
	}

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &Digest{
		Subject:   fmt.Sprintf("post4me: %d posted, %d failed, %d upcoming (%s)", len(data.Posted), len(data.Failed), len(data.Upcoming), now.Format("Jan 2")),
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		PostIDs:   ids,
		CreatedAt: now,
	}, nil
}

func recent(posts []types.Post, since time.Time, at func(types.Post) time.Time) []types.Post {
	var out []types.Post
	for _, p := range posts {
		if since.IsZero() || !at(p).Before(since) {
			out = append(out, p)
		}
	}
	return out
}

func (b *Builder) postData(posts []types.Post, now time.Time, at func(types.Post) time.Time) []PostData {
	if len(posts) > b.maxPosts {
		posts = posts[:b.maxPosts]
	}
	out := make([]PostData, len(posts))
	for i, p := range posts {
		when := ""
		if t := at(p); !t.IsZero() {
			when = humanize.RelTime(t, now, "ago", "from now")
		}
		out[i] = PostData{
			ID:      p.ID,
			Content: truncate(p.Text, 140),
			When:    when,
			Error:   p.ErrorMessage,
			Retries: p.RetriesCount,
			URL:     p.TweetURL,
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func buildPlainText(data DigestData) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s\n%s\n", data.Title, data.Date)
	if data.Stats.Followers != "" {
		fmt.Fprintf(&buf, "Followers: %s", data.Stats.Followers)
		if data.Stats.HasTrend {
			fmt.Fprintf(&buf, " (%s)", data.Stats.FollowerDelta)
		}
		buf.WriteString("\n")
	}

	section := func(title string, posts []PostData) {
		if len(posts) == 0 {
			return
		}
		fmt.Fprintf(&buf, "\n%s\n", title)
		for i, p := range posts {
			fmt.Fprintf(&buf, "%d. #%d %s", i+1, p.ID, p.Content)
			if p.When != "" {
				fmt.Fprintf(&buf, " (%s)", p.When)
			}
			buf.WriteString("\n")
			if p.Error != "" {
				fmt.Fprintf(&buf, "   error: %s (retries: %d)\n", p.Error, p.Retries)
			}
			if p.URL != "" {
				fmt.Fprintf(&buf, "   %s\n", p.URL)
			}
		}
	}
	section("Posted", data.Posted)
	section("Failed", data.Failed)
	section("Upcoming", data.Upcoming)

	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #1da1f2; margin-bottom: 5px; }
        h2 { font-size: 15px; color: #333; margin-top: 24px; }
        .date, .stats { color: #666; margin-bottom: 12px; }
        .post { border-bottom: 1px solid #eee; padding: 10px 0; }
        .post:last-child { border-bottom: none; }
        .content { line-height: 1.4; }
        .when { color: #666; font-size: 13px; }
        .error { color: #c0392b; font-size: 13px; }
        .link { color: #1da1f2; text-decoration: none; font-size: 13px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}}</div>
        {{if .Stats.Followers}}<div class="stats">{{.Stats.Followers}} followers{{if .Stats.HasTrend}} ({{.Stats.FollowerDelta}}){{end}}</div>{{end}}

        {{if .Posted}}<h2>Posted</h2>{{end}}
        {{range .Posted}}
        <div class="post">
            <div class="content">{{.Content}}</div>
            <div class="when">{{.When}}</div>
            {{if .URL}}<a href="{{.URL}}" class="link">View on X →</a>{{end}}
        </div>
        {{end}}

        {{if .Failed}}<h2>Failed</h2>{{end}}
        {{range .Failed}}
        <div class="post">
            <div class="content">{{.Content}}</div>
            <div class="error">{{.Error}} · retries: {{.Retries}}</div>
        </div>
        {{end}}

        {{if .Upcoming}}<h2>Upcoming</h2>{{end}}
        {{range .Upcoming}}
        <div class="post">
            <div class="content">{{.Content}}</div>
            <div class="when">{{.When}}</div>
        </div>
        {{end}}
    </div>
</body>
</html>`
