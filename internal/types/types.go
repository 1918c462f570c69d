package types

import (
	"strings"
	"time"
)

// Character limits for a post, by account verification.
const (
	DefaultCharLimit  = 280
	VerifiedCharLimit = 25000
)

// MinScheduleLead is how far in the future a schedule time must be when it is set.
const MinScheduleLead = 5 * time.Minute

// Post is a composed item tracked through its lifecycle toward publication.
type Post struct {
	ID           int64     `json:"id"`
	Text         string    `json:"text"`
	ImagePath    string    `json:"image_path"`
	ScheduledAt  Timestamp `json:"scheduled_at"`
	Status       Status    `json:"status"`
	CreatedAt    Timestamp `json:"created_at"`
	UpdatedAt    Timestamp `json:"updated_at"`
	PostedAt     Timestamp `json:"posted_at"`
	ErrorMessage string    `json:"error_message"`
	RetriesCount int       `json:"retries_count"`
	TweetURL     string    `json:"tweet_url"`
}

// HasMedia reports whether an image is attached.
func (p Post) HasMedia() bool {
	return strings.TrimSpace(p.ImagePath) != ""
}

// HasText reports whether the post carries non-blank text.
func (p Post) HasText() bool {
	return strings.TrimSpace(p.Text) != ""
}

// Normalize enforces the error/message pairing on a post received from the
// backend: only an errored post keeps an error message.
func (p Post) Normalize() Post {
	if p.Status != StatusError {
		p.ErrorMessage = ""
	}
	return p
}

// NewPost is the payload for creating a post.
type NewPost struct {
	Text        string
	Status      Status
	ScheduledAt Timestamp
	// ImagePath is a local file uploaded with the post, empty for text-only.
	ImagePath string
}

// PostPatch is a partial update. Nil fields are left untouched.
type PostPatch struct {
	Text        *string    `json:"text,omitempty"`
	ScheduledAt *Timestamp `json:"scheduled_at,omitempty"`
	Status      *Status    `json:"status,omitempty"`
}

// ActionResult is the in-band outcome of a lifecycle endpoint.
type ActionResult struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	AlreadyDeleted bool   `json:"already_deleted,omitempty"`
}

// Profile is the read-mostly snapshot of the linked X account.
type Profile struct {
	DisplayName    string `json:"display_name"`
	Username       string `json:"username"`
	HasPicture     bool   `json:"has_picture"`
	IsVerified     bool   `json:"is_verified"`
	VerifiedType   string `json:"verified_type"`
	FollowersCount int    `json:"followers_count"`
	FollowingCount int    `json:"following_count"`
	Bio            string `json:"bio"`
	JoinDate       string `json:"join_date"`
}

// CharLimit returns the maximum post length for this account.
func (p Profile) CharLimit() int {
	if p.IsVerified {
		return VerifiedCharLimit
	}
	return DefaultCharLimit
}

// Linked reports whether the backend knows which account it is driving.
func (p Profile) Linked() bool {
	return strings.TrimSpace(p.Username) != ""
}

// FollowerSnapshot is one recorded (followers, following) pair.
type FollowerSnapshot struct {
	ID             int64     `json:"id"`
	FollowersCount int       `json:"followers_count"`
	FollowingCount int       `json:"following_count"`
	RecordedAt     Timestamp `json:"recorded_at"`
}

// ProfileStats bundles the profile with its follower history, oldest first.
type ProfileStats struct {
	Profile Profile            `json:"profile"`
	History []FollowerSnapshot `json:"history"`
}

// Trend is the change between the two most recent snapshots.
type Trend struct {
	Followers int
	Following int
}

// Trend returns latest minus previous. ok is false with fewer than two snapshots.
func (s ProfileStats) Trend() (Trend, bool) {
	n := len(s.History)
	if n < 2 {
		return Trend{}, false
	}
	latest, previous := s.History[n-1], s.History[n-2]
	return Trend{
		Followers: latest.FollowersCount - previous.FollowersCount,
		Following: latest.FollowingCount - previous.FollowingCount,
	}, true
}

// ConnectionCheck is the result of asking the backend to reach X.
type ConnectionCheck struct {
	Success                 bool   `json:"success"`
	Error                   string `json:"error,omitempty"`
	NeedsManualIntervention bool   `json:"needs_manual_intervention,omitempty"`
}
