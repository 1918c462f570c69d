package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ibeckermayer/post4me/internal/types"
)

// List returns posts, optionally filtered by a single status.
func (c *Client) List(ctx context.Context, status types.Status) ([]types.Post, error) {
	path := "/posts"
	if status != "" {
		path += "?" + url.Values{"status": {string(status)}}.Encode()
	}
	var rows []json.RawMessage
	if err := c.call(ctx, "list posts", http.MethodGet, path, nil, "", &rows); err != nil {
		return nil, err
	}
	return decodePosts(rows), nil
}

// decodePosts decodes rows one at a time. A row that does not decode, such
// as one carrying a status this client does not know, is logged and left
// out so the rest of the list still shows.
func decodePosts(rows []json.RawMessage) []types.Post {
	posts := make([]types.Post, 0, len(rows))
	for _, row := range rows {
		var p types.Post
		if err := json.Unmarshal(row, &p); err != nil {
			log.Printf("[remote] Skipping post that does not decode: %v", err)
			continue
		}
		posts = append(posts, p.Normalize())
	}
	return posts
}

// Get returns a single post.
func (c *Client) Get(ctx context.Context, id int64) (types.Post, error) {
	var p types.Post
	if err := c.call(ctx, "get post", http.MethodGet, postPath(id, ""), nil, "", &p); err != nil {
		return types.Post{}, err
	}
	return p.Normalize(), nil
}

// createdBody covers the partial answers to create and duplicate.
type createdBody struct {
	ID     int64        `json:"id"`
	Status types.Status `json:"status"`
}

// Create uploads a new post as multipart form data. The backend answers with
// only the id and status, so the post is read back for a full snapshot.
func (c *Client) Create(ctx context.Context, np types.NewPost) (types.Post, error) {
	const op = "create post"

	status := np.Status
	if status == "" {
		status = types.StatusDraft
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("text", np.Text); err != nil {
		return types.Post{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := w.WriteField("status", string(status)); err != nil {
		return types.Post{}, fmt.Errorf("%s: %w", op, err)
	}
	if !np.ScheduledAt.IsZero() {
		if err := w.WriteField("scheduled_at", np.ScheduledAt.Wire()); err != nil {
			return types.Post{}, fmt.Errorf("%s: %w", op, err)
		}
	}
	if np.ImagePath != "" {
		if err := attachImage(w, np.ImagePath); err != nil {
			return types.Post{}, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := w.Close(); err != nil {
		return types.Post{}, fmt.Errorf("%s: %w", op, err)
	}

	var created createdBody
	if err := c.call(ctx, op, http.MethodPost, "/posts", &buf, w.FormDataContentType(), &created); err != nil {
		return types.Post{}, err
	}
	if created.ID == 0 {
		return types.Post{}, &TransportError{Op: op, Err: fmt.Errorf("response carried no post id")}
	}
	if created.Status == "" {
		created.Status = status
	}

	return c.readBack(ctx, op, types.Post{
		ID:          created.ID,
		Text:        np.Text,
		ImagePath:   filepath.Base(np.ImagePath),
		ScheduledAt: np.ScheduledAt,
		Status:      created.Status,
	}), nil
}

// Update applies a partial change and returns the post as stored.
func (c *Client) Update(ctx context.Context, id int64, patch types.PostPatch) (types.Post, error) {
	const op = "update post"
	if err := c.callJSON(ctx, op, http.MethodPut, postPath(id, ""), patch, nil); err != nil {
		return types.Post{}, err
	}
	return c.Get(ctx, id)
}

// Delete removes the post from the backend.
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.call(ctx, "delete post", http.MethodDelete, postPath(id, ""), nil, "", nil)
}

// Duplicate clones a post into a new draft and returns the clone.
func (c *Client) Duplicate(ctx context.Context, id int64) (types.Post, error) {
	const op = "duplicate post"
	var created createdBody
	if err := c.call(ctx, op, http.MethodPost, postPath(id, "duplicate"), nil, "", &created); err != nil {
		return types.Post{}, err
	}
	if created.ID == 0 {
		return types.Post{}, &TransportError{Op: op, Err: fmt.Errorf("response carried no post id")}
	}
	return c.readBack(ctx, op, types.Post{ID: created.ID, Status: types.StatusDraft}), nil
}

// readBack fetches the full post after a create. The post exists either way,
// so a failed read returns what is already known instead of an error.
func (c *Client) readBack(ctx context.Context, op string, known types.Post) types.Post {
	p, err := c.Get(ctx, known.ID)
	if err != nil {
		log.Printf("[remote] %s: post #%d created but could not be read back: %v", op, known.ID, err)
		return known
	}
	return p
}

func (c *Client) PostNow(ctx context.Context, id int64) (types.ActionResult, error) {
	return c.action(ctx, "post now", id, "post-now")
}

func (c *Client) ScheduleNow(ctx context.Context, id int64) (types.ActionResult, error) {
	return c.action(ctx, "schedule now", id, "schedule-now")
}

func (c *Client) Retry(ctx context.Context, id int64) (types.ActionResult, error) {
	return c.action(ctx, "retry post", id, "retry")
}

func (c *Client) RemoveMedia(ctx context.Context, id int64) (types.ActionResult, error) {
	return c.action(ctx, "remove media", id, "remove-media")
}

// DeleteFromX removes a published post from X. An already removed tweet is
// reported as success with AlreadyDeleted set.
func (c *Client) DeleteFromX(ctx context.Context, id int64) (types.ActionResult, error) {
	return c.action(ctx, "delete from x", id, "delete-from-x")
}

// DeleteScheduledFromX cancels a post scheduled natively on X.
func (c *Client) DeleteScheduledFromX(ctx context.Context, id int64) (types.ActionResult, error) {
	return c.action(ctx, "delete scheduled from x", id, "delete-scheduled-from-x")
}

type actionBody struct {
	Success        *bool  `json:"success"`
	Error          string `json:"error"`
	AlreadyDeleted bool   `json:"already_deleted"`
}

// action posts to a lifecycle endpoint. Expected refusals come back in-band
// as ActionResult{Success: false}, whether the backend sends them on a 2xx or
// on an error status with a JSON body. Everything else is a transport failure.
func (c *Client) action(ctx context.Context, op string, id int64, name string) (types.ActionResult, error) {
	status, data, err := c.send(ctx, op, http.MethodPost, postPath(id, name), nil, "")
	if err != nil {
		return types.ActionResult{}, err
	}
	ok := status >= 200 && status <= 299

	var body actionBody
	if jerr := json.Unmarshal(data, &body); jerr != nil {
		if ok {
			return types.ActionResult{}, &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", jerr)}
		}
		return types.ActionResult{}, &TransportError{Op: op, StatusCode: status, Body: snippet(data)}
	}

	if !ok {
		if body.Success == nil && body.Error == "" {
			return types.ActionResult{}, &TransportError{Op: op, StatusCode: status, Body: snippet(data)}
		}
		return types.ActionResult{Success: false, Error: body.Error}, nil
	}

	success := body.Error == ""
	if body.Success != nil {
		success = *body.Success
	}
	return types.ActionResult{
		Success:        success,
		Error:          body.Error,
		AlreadyDeleted: body.AlreadyDeleted,
	}, nil
}

func postPath(id int64, action string) string {
	if action == "" {
		return fmt.Sprintf("/posts/%d", id)
	}
	return fmt.Sprintf("/posts/%d/%s", id, action)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// attachImage writes the image part with its sniffed content type so the
// backend's extension check and the actual bytes agree.
func attachImage(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return fmt.Errorf("detect image type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind image: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(filepath.Base(path))))
	h.Set("Content-Type", mt.String())
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy image: %w", err)
	}
	return nil
}
