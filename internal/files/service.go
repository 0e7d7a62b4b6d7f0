// Package files exposes WebDAV file storage as tool operations: listing,
// reading, writing, and reorganizing documents under the agent's file root.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/arkadianet/davgate/internal/dav"
)

// Entry describes one resource in a listing or stat reply.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDir       bool   `json:"is_dir"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
	Modified    string `json:"modified,omitempty"`
	ETag        string `json:"etag,omitempty"`
}

// NotFoundError reports a path that does not exist upstream.
type NotFoundError struct{ Path string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("files: %s not found", e.Path) }

// Service wraps a DAV client rooted at the agent's file namespace.
type Service struct {
	client *dav.Client
}

// NewService returns a file service over client.
func NewService(client *dav.Client) *Service {
	return &Service{client: client}
}

// List returns the entries directly inside dir. The collection itself is
// reported first in the multistatus reply and is dropped from the listing.
func (s *Service) List(ctx context.Context, dir string) ([]Entry, error) {
	ms, err := s.client.Propfind(ctx, dir, "1", dav.NewPropfindBody())
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ms.Responses))
	for i := range ms.Responses {
		if i == 0 {
			continue
		}
		entries = append(entries, entryFromResponse(&ms.Responses[i]))
	}
	return entries, nil
}

// Stat returns the entry for one path.
func (s *Service) Stat(ctx context.Context, p string) (Entry, error) {
	ms, err := s.client.Propfind(ctx, p, "0", dav.NewPropfindBody())
	if err != nil {
		if code, ok := statusCode(err); ok && code == http.StatusNotFound {
			return Entry{}, &NotFoundError{Path: p}
		}
		return Entry{}, err
	}
	if len(ms.Responses) == 0 {
		return Entry{}, &NotFoundError{Path: p}
	}
	return entryFromResponse(&ms.Responses[0]), nil
}

// IsFile reports whether p exists and is not a collection.
func (s *Service) IsFile(ctx context.Context, p string) (bool, error) {
	e, err := s.Stat(ctx, p)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return !e.IsDir, nil
}

// IsDir reports whether p exists and is a collection.
func (s *Service) IsDir(ctx context.Context, p string) (bool, error) {
	e, err := s.Stat(ctx, p)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return e.IsDir, nil
}

// Mkdir creates a directory.
func (s *Service) Mkdir(ctx context.Context, dir string) error {
	return s.client.Mkcol(ctx, dir)
}

// RemoveDir deletes a directory and everything in it.
func (s *Service) RemoveDir(ctx context.Context, dir string) error {
	return s.client.Delete(ctx, strings.TrimRight(dir, "/")+"/")
}

// ReadFile fetches a file's raw contents.
func (s *Service) ReadFile(ctx context.Context, p string) ([]byte, error) {
	resp, err := s.client.Get(ctx, p)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Path: p}
	}
	if err := resp.Expect(http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// WriteFile stores data at p, creating or overwriting.
func (s *Service) WriteFile(ctx context.Context, p string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.client.Put(ctx, p, contentType, data)
}

// DeleteFile removes a file.
func (s *Service) DeleteFile(ctx context.Context, p string) error {
	err := s.client.Delete(ctx, p)
	if code, ok := statusCode(err); ok && code == http.StatusNotFound {
		return &NotFoundError{Path: p}
	}
	return err
}

// ReadJSON fetches p and decodes it into a generic JSON value, rejecting
// files that do not hold valid JSON.
func (s *Service) ReadJSON(ctx context.Context, p string) (any, error) {
	data, err := s.ReadFile(ctx, p)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("files: %s is not valid JSON: %w", p, err)
	}
	return v, nil
}

// WriteJSON stores v at p as indented JSON.
func (s *Service) WriteJSON(ctx context.Context, p string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("files: encode %s: %w", p, err)
	}
	return s.WriteFile(ctx, p, append(data, '\n'), "application/json")
}

// Copy duplicates src to dst; directories copy recursively.
func (s *Service) Copy(ctx context.Context, src, dst string) error {
	return s.client.Copy(ctx, src, dst)
}

// Move relocates src to dst.
func (s *Service) Move(ctx context.Context, src, dst string) error {
	return s.client.Move(ctx, src, dst)
}

// Search runs a server-side DASL search for resources whose display name
// contains query. Servers without SEARCH support return a *dav.StatusError.
func (s *Service) Search(ctx context.Context, scopeHref, query string) ([]Entry, error) {
	ms, err := s.client.Search(ctx, dav.NewDisplayNameSearch(scopeHref, query))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ms.Responses))
	for i := range ms.Responses {
		entries = append(entries, entryFromResponse(&ms.Responses[i]))
	}
	return entries, nil
}

func entryFromResponse(r *dav.ItemResponse) Entry {
	prop := r.Prop()
	name := prop.DisplayName
	if name == "" {
		name = baseName(r.Href)
	}
	return Entry{
		Name:        name,
		Path:        r.Href,
		IsDir:       r.IsCollection(),
		Size:        prop.Size(),
		ContentType: prop.ContentType,
		Modified:    prop.LastModified,
		ETag:        prop.ETag,
	}
}

func baseName(href string) string {
	trimmed := strings.TrimRight(href, "/")
	name := path.Base(trimmed)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}

func statusCode(err error) (int, bool) {
	var se *dav.StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
