// Package composer keeps the work-in-progress post between keystrokes and
// across restarts.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/ibeckermayer/post4me/internal/lifecycle"
	"github.com/ibeckermayer/post4me/internal/types"
)

// Keys the draft is persisted under. Text and schedule are stored
// separately so losing one never corrupts the other.
const (
	KeyText      = "composer_text"
	KeyScheduled = "composer_scheduled"
)

// MaxImageSize is the largest attachment the composer accepts.
const MaxImageSize = 5 << 20

var (
	ErrVideoUnsupported = errors.New("videos are not supported, attach an image")
	ErrNotImage         = errors.New("attachment is not an image")
	ErrImageTooLarge    = fmt.Errorf("image is larger than %s", humanize.IBytes(MaxImageSize))
)

// KV is the durable storage the draft lives in.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(keys ...string) error
}

// Submitter turns a draft into a post.
type Submitter interface {
	Create(ctx context.Context, np types.NewPost, intent lifecycle.Intent, charLimit int) (types.Post, error)
}

// Image is a pending attachment. It is never persisted; after a restart the
// user has to pick it again.
type Image struct {
	Path string
	Name string
	MIME string
	Size int64
}

// Draft is the composer buffer. It has no id and no status.
type Draft struct {
	Text        string
	ScheduledAt types.Timestamp
	Image       *Image
	// Preview is a one-line description of the attachment.
	Preview string
}

// Empty reports whether there is nothing worth keeping.
func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Text) == "" && d.ScheduledAt.IsZero() && d.Image == nil
}

// Length counts characters the way the limit is enforced.
func (d Draft) Length() int {
	return utf8.RuneCountInString(d.Text)
}

// Remaining returns how many characters are left under limit; negative when
// over.
func (d Draft) Remaining(limit int) int {
	if limit <= 0 {
		limit = types.DefaultCharLimit
	}
	return limit - d.Length()
}

// NewPost is the create payload for the draft.
func (d Draft) NewPost() types.NewPost {
	np := types.NewPost{Text: d.Text, ScheduledAt: d.ScheduledAt}
	if d.Image != nil {
		np.ImagePath = d.Image.Path
	}
	return np
}

// Session owns the single composer draft.
type Session struct {
	mu     sync.Mutex
	kv     KV
	submit Submitter
	draft  Draft
}

// New restores the draft from kv. A corrupt schedule value is dropped
// without touching the text.
func New(kv KV, submit Submitter) (*Session, error) {
	s := &Session{kv: kv, submit: submit}

	text, _, err := kv.Get(KeyText)
	if err != nil {
		return nil, fmt.Errorf("restore draft text: %w", err)
	}
	s.draft.Text = text

	raw, ok, err := kv.Get(KeyScheduled)
	if err != nil {
		return nil, fmt.Errorf("restore draft schedule: %w", err)
	}
	if ok {
		at, err := types.ParseTimestamp(raw)
		if err != nil {
			log.Printf("[composer] Dropping unreadable schedule %q: %v", raw, err)
			if err := kv.Delete(KeyScheduled); err != nil {
				log.Printf("[composer] Failed to clear schedule: %v", err)
			}
		} else {
			s.draft.ScheduledAt = at
		}
	}
	return s, nil
}

// Draft returns a copy of the current buffer.
func (s *Session) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.draft
	if d.Image != nil {
		img := *d.Image
		d.Image = &img
	}
	return d
}

// SetText updates and persists the text.
func (s *Session) SetText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Text = text
	if text == "" {
		return s.kv.Delete(KeyText)
	}
	return s.kv.Set(KeyText, text)
}

// SetScheduledAt updates and persists the schedule candidate. A zero value
// clears it. The lead time is checked on submit, not here.
func (s *Session) SetScheduledAt(at types.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.ScheduledAt = at
	if at.IsZero() {
		return s.kv.Delete(KeyScheduled)
	}
	return s.kv.Set(KeyScheduled, at.Wire())
}

// SetImage attaches the image at path after checking its size and type.
func (s *Session) SetImage(path string) (Image, error) {
	img, err := InspectImage(path)
	if err != nil {
		return Image{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Image = &img
	s.draft.Preview = preview(img)
	return img, nil
}

// ClearImage drops the pending attachment.
func (s *Session) ClearImage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Image = nil
	s.draft.Preview = ""
}

// Reset empties the draft and removes both persisted keys.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked()
}

func (s *Session) resetLocked() error {
	s.draft = Draft{}
	if err := s.kv.Delete(KeyText, KeyScheduled); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

// Submit creates a post from the draft. The draft is reset only once the
// create and any chained publish or schedule have gone through; on any error,
// including a *lifecycle.ChainError, it is left as it was. Edits made while
// the create was in flight are kept.
func (s *Session) Submit(ctx context.Context, intent lifecycle.Intent, charLimit int) (types.Post, error) {
	d := s.Draft()
	p, err := s.submit.Create(ctx, d.NewPost(), intent, charLimit)
	if err != nil {
		return p, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !sameDraft(s.draft, d) {
		log.Printf("[composer] Post #%d created; draft changed meanwhile, keeping it", p.ID)
		return p, nil
	}
	if err := s.resetLocked(); err != nil {
		log.Printf("[composer] Post #%d created but draft not cleared: %v", p.ID, err)
	}
	return p, nil
}

func sameDraft(a, b Draft) bool {
	if a.Text != b.Text || !a.ScheduledAt.Equal(b.ScheduledAt.Time) {
		return false
	}
	if a.Image == nil || b.Image == nil {
		return a.Image == b.Image
	}
	return a.Image.Path == b.Image.Path
}

// InspectImage checks that path is an image small enough to attach.
func InspectImage(path string) (Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Image{}, fmt.Errorf("attach %s: %w", path, err)
	}
	if info.IsDir() {
		return Image{}, fmt.Errorf("attach %s: %w", path, ErrNotImage)
	}
	if info.Size() > MaxImageSize {
		return Image{}, ErrImageTooLarge
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("detect type of %s: %w", path, err)
	}
	switch {
	case strings.HasPrefix(mt.String(), "video/"):
		return Image{}, ErrVideoUnsupported
	case !strings.HasPrefix(mt.String(), "image/"):
		return Image{}, fmt.Errorf("%w (%s)", ErrNotImage, mt.String())
	}

	return Image{
		Path: path,
		Name: filepath.Base(path),
		MIME: mt.String(),
		Size: info.Size(),
	}, nil
}

func preview(img Image) string {
	return fmt.Sprintf("%s (%s, %s)", img.Name, img.MIME, humanize.Bytes(uint64(img.Size)))
}
