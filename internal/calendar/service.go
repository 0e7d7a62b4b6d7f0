// Package calendar exposes CalDAV scheduling as tool operations: events,
// tasks, and a recurrence-expanded agenda over one upstream calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arkadianet/davgate/internal/dav"
	"github.com/arkadianet/davgate/internal/ids"
	"github.com/arkadianet/davgate/internal/vdir"
)

// defaultWindow bounds event queries when the caller gives no range.
const defaultWindow = 30 * 24 * time.Hour

// Object is one calendar resource with its decoded fields. The raw
// payload is retained for recurrence expansion but stays out of the
// JSON shape.
type Object struct {
	Href   string       `json:"href"`
	ETag   string       `json:"etag,omitempty"`
	Record *vdir.Record `json:"record"`

	raw string
}

// NotFoundError reports a UID with no matching resource upstream.
type NotFoundError struct{ UID string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("calendar: %s not found", e.UID) }

// Service wraps a DAV client rooted at one CalDAV calendar collection.
type Service struct {
	client *dav.Client

	// now is swappable so range defaults stay deterministic under test.
	now func() time.Time
}

// NewService returns a calendar service over client.
func NewService(client *dav.Client) *Service {
	return &Service{client: client, now: time.Now}
}

// EventsInRange lists events overlapping [start, end). Zero times default
// to a window from now to now plus thirty days.
func (s *Service) EventsInRange(ctx context.Context, start, end time.Time) ([]Object, error) {
	if start.IsZero() {
		start = s.now()
	}
	if end.IsZero() {
		end = start.Add(defaultWindow)
	}
	body := dav.NewCalendarQuery("VEVENT", start.UTC().Format(TimeLayout), end.UTC().Format(TimeLayout))
	return s.query(ctx, body)
}

// AllEvents lists every event without a time filter.
func (s *Service) AllEvents(ctx context.Context) ([]Object, error) {
	return s.query(ctx, dav.NewCalendarQuery("VEVENT", "", ""))
}

// Tasks lists every VTODO in the calendar.
func (s *Service) Tasks(ctx context.Context) ([]Object, error) {
	return s.query(ctx, dav.NewCalendarQuery("VTODO", "", ""))
}

func (s *Service) query(ctx context.Context, body []byte) ([]Object, error) {
	ms, err := s.client.Report(ctx, "", body)
	if err != nil {
		return nil, err
	}
	objects := make([]Object, 0, len(ms.Responses))
	for i := range ms.Responses {
		r := &ms.Responses[i]
		data := r.CalendarData()
		if data == "" {
			continue
		}
		objects = append(objects, Object{
			Href:   r.Href,
			ETag:   r.Prop().ETag,
			Record: vdir.Decode(data),
			raw:    data,
		})
	}
	return objects, nil
}

// SearchEvents returns events whose decoded field values contain query,
// matched case-insensitively. The filter runs client-side because CalDAV
// text-match support varies too much across servers.
func (s *Service) SearchEvents(ctx context.Context, query string) ([]Object, error) {
	all, err := s.AllEvents(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	matched := make([]Object, 0, len(all))
	for _, obj := range all {
		if recordContains(obj.Record, needle) {
			matched = append(matched, obj)
		}
	}
	return matched, nil
}

func recordContains(rec *vdir.Record, needle string) bool {
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

// CreateEvent builds and stores a new event, returning its UID.
func (s *Service) CreateEvent(ctx context.Context, in EventInput) (string, error) {
	uid := ids.NewUID()
	body := BuildEvent(uid, in, s.now())
	if err := s.put(ctx, uid, body); err != nil {
		return "", err
	}
	return uid, nil
}

// CreateTask builds and stores a new task, returning its UID.
func (s *Service) CreateTask(ctx context.Context, in TaskInput) (string, error) {
	uid := ids.NewUID()
	body := BuildTask(uid, in, s.now())
	if err := s.put(ctx, uid, body); err != nil {
		return "", err
	}
	return uid, nil
}

// ReadEvent fetches one resource by UID and decodes it.
func (s *Service) ReadEvent(ctx context.Context, uid string) (Object, error) {
	raw, err := s.fetch(ctx, uid)
	if err != nil {
		return Object{}, err
	}
	return Object{Href: resourcePath(uid), Record: vdir.Decode(raw), raw: raw}, nil
}

// EditEvent merges updates into the stored event and writes it back.
func (s *Service) EditEvent(ctx context.Context, uid string, updates *vdir.UpdateSet) (Object, error) {
	return s.edit(ctx, uid, updates, vdir.VEvent)
}

// EditTask merges updates into the stored task and writes it back.
func (s *Service) EditTask(ctx context.Context, uid string, updates *vdir.UpdateSet) (Object, error) {
	return s.edit(ctx, uid, updates, vdir.VTodo)
}

// CompleteTask marks a task finished.
func (s *Service) CompleteTask(ctx context.Context, uid string) (Object, error) {
	u := vdir.NewUpdateSet()
	u.Set("STATUS", vdir.Single("COMPLETED"))
	u.Set("PERCENT-COMPLETE", vdir.Single("100"))
	u.Set("COMPLETED", vdir.Single(s.now().UTC().Format(TimeLayout)))
	return s.edit(ctx, uid, u, vdir.VTodo)
}

func (s *Service) edit(ctx context.Context, uid string, updates *vdir.UpdateSet, kind vdir.Component) (Object, error) {
	raw, err := s.fetch(ctx, uid)
	if err != nil {
		return Object{}, err
	}
	patched := vdir.Patch(raw, updates, kind)
	if err := s.put(ctx, uid, patched); err != nil {
		return Object{}, err
	}
	return Object{Href: resourcePath(uid), Record: vdir.Decode(patched), raw: patched}, nil
}

// DeleteEvent removes a resource by UID. Deleting a task goes through the
// same path since both live under UID.ics names.
func (s *Service) DeleteEvent(ctx context.Context, uid string) error {
	err := s.client.Delete(ctx, resourcePath(uid))
	var se *dav.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return &NotFoundError{UID: uid}
	}
	return err
}

// DeleteTask removes a task by UID.
func (s *Service) DeleteTask(ctx context.Context, uid string) error {
	return s.DeleteEvent(ctx, uid)
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
	return s.client.Put(ctx, resourcePath(uid), "text/calendar; charset=utf-8", []byte(body))
}

func resourcePath(uid string) string { return uid + ".ics" }
