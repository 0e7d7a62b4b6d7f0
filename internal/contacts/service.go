// Package contacts exposes CardDAV address books as tool operations.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/arkadianet/davgate/internal/dav"
	"github.com/arkadianet/davgate/internal/ids"
	"github.com/arkadianet/davgate/internal/vdir"
)

// Card is one address book entry with its decoded fields.
type Card struct {
	Href   string       `json:"href"`
	ETag   string       `json:"etag,omitempty"`
	Record *vdir.Record `json:"record"`
}

// NotFoundError reports a UID with no matching card upstream.
type NotFoundError struct{ UID string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("contacts: %s not found", e.UID) }

// Service wraps a DAV client rooted at one CardDAV address book.
type Service struct {
	client *dav.Client
}

// NewService returns a contacts service over client.
func NewService(client *dav.Client) *Service {
	return &Service{client: client}
}

// List returns every card in the address book.
func (s *Service) List(ctx context.Context) ([]Card, error) {
	ms, err := s.client.Report(ctx, "", dav.NewAddressbookQuery())
	if err != nil {
		return nil, err
	}
	cards := make([]Card, 0, len(ms.Responses))
	for i := range ms.Responses {
		r := &ms.Responses[i]
		data := r.AddressData()
		if data == "" {
			continue
		}
		cards = append(cards, Card{
			Href:   r.Href,
			ETag:   r.Prop().ETag,
			Record: vdir.Decode(data),
		})
	}
	return cards, nil
}

// Search returns cards whose decoded field values contain query, matched
// case-insensitively. Address book text-match support is patchy enough
// upstream that the filter runs client-side.
func (s *Service) Search(ctx context.Context, query string) ([]Card, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	matched := make([]Card, 0, len(all))
	for _, card := range all {
		if cardContains(card.Record, needle) {
			matched = append(matched, card)
		}
	}
	return matched, nil
}

func cardContains(rec *vdir.Record, needle string) bool {
	for _, name := range rec.Names() {
		v, _ := rec.Get(name)
		for _, item := range v.Strings() {
			if strings.Contains(strings.ToLower(item), needle) {
				return true
			}
		}
	}
	return false
}

// CardInput holds the writable properties of a new contact.
type CardInput struct {
	FullName string
	Email    string
	Phone    string
}

// Create builds and stores a new vCard, returning its UID.
func (s *Service) Create(ctx context.Context, in CardInput) (string, error) {
	uid := ids.NewUID()
	body := BuildCard(uid, in)
	if err := s.put(ctx, uid, body); err != nil {
		return "", err
	}
	return uid, nil
}

// Read fetches one card by UID and decodes it.
func (s *Service) Read(ctx context.Context, uid string) (Card, error) {
	raw, err := s.fetch(ctx, uid)
	if err != nil {
		return Card{}, err
	}
	return Card{Href: resourcePath(uid), Record: vdir.Decode(raw)}, nil
}

// Edit merges updates into the stored card and writes it back.
func (s *Service) Edit(ctx context.Context, uid string, updates *vdir.UpdateSet) (Card, error) {
	raw, err := s.fetch(ctx, uid)
	if err != nil {
		return Card{}, err
	}
	patched := vdir.Patch(raw, updates, vdir.VCard)
	if err := s.put(ctx, uid, patched); err != nil {
		return Card{}, err
	}
	return Card{Href: resourcePath(uid), Record: vdir.Decode(patched)}, nil
}

// Delete removes a card by UID.
func (s *Service) Delete(ctx context.Context, uid string) error {
	err := s.client.Delete(ctx, resourcePath(uid))
	var se *dav.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return &NotFoundError{UID: uid}
	}
	return err
}

func (s *Service) fetch(ctx context.Context, uid string) (string, error) {
	resp, err := s.client.Get(ctx, resourcePath(uid))
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", &NotFoundError{UID: uid}
	}
	if err := resp.Expect(http.StatusOK); err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

func (s *Service) put(ctx context.Context, uid, body string) error {
	return s.client.Put(ctx, resourcePath(uid), "text/vcard; charset=utf-8", []byte(body))
}

func resourcePath(uid string) string { return uid + ".vcf" }
