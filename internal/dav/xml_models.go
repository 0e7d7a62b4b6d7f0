package dav

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Request bodies are marshalled with explicit namespace prefixes because
// several DAV servers reject the xmlns-rewriting encoding/xml produces for
// attribute-less qualified names.

type propfindBody struct {
	XMLName xml.Name `xml:"d:propfind"`
	XmlnsD  string   `xml:"xmlns:d,attr"`
	Prop    struct {
		DisplayName   struct{} `xml:"d:displayname"`
		ResourceType  struct{} `xml:"d:resourcetype"`
		ContentLength struct{} `xml:"d:getcontentlength"`
		ContentType   struct{} `xml:"d:getcontenttype"`
		LastModified  struct{} `xml:"d:getlastmodified"`
		ETag          struct{} `xml:"d:getetag"`
	} `xml:"d:prop"`
}

// NewPropfindBody builds the standard property request used for listings
// and stat calls.
func NewPropfindBody() []byte {
	body := propfindBody{XmlnsD: "DAV:"}
	out, _ := xml.Marshal(body)
	return append([]byte(xml.Header), out...)
}

type calendarQuery struct {
	XMLName xml.Name `xml:"c:calendar-query"`
	XmlnsD  string   `xml:"xmlns:d,attr"`
	XmlnsC  string   `xml:"xmlns:c,attr"`
	Prop    struct {
		ETag         struct{} `xml:"d:getetag"`
		CalendarData struct{} `xml:"c:calendar-data"`
	} `xml:"d:prop"`
	Filter struct {
		CompFilter calendarCompFilter `xml:"c:comp-filter"`
	} `xml:"c:filter"`
}

type calendarCompFilter struct {
	Name      string              `xml:"name,attr"`
	Child     *calendarCompFilter `xml:"c:comp-filter,omitempty"`
	TimeRange *calendarTimeRange  `xml:"c:time-range,omitempty"`
}

type calendarTimeRange struct {
	Start string `xml:"start,attr,omitempty"`
	End   string `xml:"end,attr,omitempty"`
}

// NewCalendarQuery builds a calendar-query REPORT body for the given
// component name (VEVENT or VTODO). start and end use the basic UTC
// timestamp format; empty strings omit the time-range filter entirely.
func NewCalendarQuery(component, start, end string) []byte {
	q := calendarQuery{XmlnsD: "DAV:", XmlnsC: "urn:ietf:params:xml:ns:caldav"}
	inner := &calendarCompFilter{Name: component}
	if start != "" || end != "" {
		inner.TimeRange = &calendarTimeRange{Start: start, End: end}
	}
	q.Filter.CompFilter = calendarCompFilter{Name: "VCALENDAR", Child: inner}
	out, _ := xml.Marshal(q)
	return append([]byte(xml.Header), out...)
}

type addressbookQuery struct {
	XMLName xml.Name `xml:"card:addressbook-query"`
	XmlnsD  string   `xml:"xmlns:d,attr"`
	XmlnsCR string   `xml:"xmlns:card,attr"`
	Prop    struct {
		ETag        struct{} `xml:"d:getetag"`
		AddressData struct{} `xml:"card:address-data"`
	} `xml:"d:prop"`
}

// NewAddressbookQuery builds an addressbook-query REPORT that returns
// every card with its vCard payload.
func NewAddressbookQuery() []byte {
	q := addressbookQuery{XmlnsD: "DAV:", XmlnsCR: "urn:ietf:params:xml:ns:carddav"}
	out, _ := xml.Marshal(q)
	return append([]byte(xml.Header), out...)
}

type basicSearch struct {
	XMLName xml.Name `xml:"d:searchrequest"`
	XmlnsD  string   `xml:"xmlns:d,attr"`
	Search  struct {
		Select struct {
			Prop struct {
				DisplayName struct{} `xml:"d:displayname"`
			} `xml:"d:prop"`
		} `xml:"d:select"`
		From struct {
			Scope struct {
				Href  string `xml:"d:href"`
				Depth string `xml:"d:depth"`
			} `xml:"d:scope"`
		} `xml:"d:from"`
		Where struct {
			Like struct {
				Prop struct {
					DisplayName struct{} `xml:"d:displayname"`
				} `xml:"d:prop"`
				Literal string `xml:"d:literal"`
			} `xml:"d:like"`
		} `xml:"d:where"`
	} `xml:"d:basicsearch"`
}

// NewDisplayNameSearch builds a DASL basicsearch matching resources whose
// display name contains query, scoped to scopeHref at infinite depth.
func NewDisplayNameSearch(scopeHref, query string) []byte {
	s := basicSearch{XmlnsD: "DAV:"}
	s.Search.From.Scope.Href = scopeHref
	s.Search.From.Scope.Depth = "infinity"
	s.Search.Where.Like.Literal = fmt.Sprintf("%%%s%%", query)
	out, _ := xml.Marshal(s)
	return append([]byte(xml.Header), out...)
}

// Multistatus is a parsed 207 reply.
type Multistatus struct {
	XMLName   xml.Name       `xml:"DAV: multistatus"`
	Responses []ItemResponse `xml:"response"`
}

// ItemResponse is one resource within a multistatus reply.
type ItemResponse struct {
	Href     string     `xml:"href"`
	Propstat []Propstat `xml:"propstat"`
}

// Propstat pairs a property set with its status line.
type Propstat struct {
	Status string   `xml:"status"`
	Prop   ItemProp `xml:"prop"`
}

// ItemProp carries the properties the gateway asks for.
type ItemProp struct {
	DisplayName   string       `xml:"displayname"`
	// Kept as a string: servers emit an empty getcontentlength for
	// collections, which a numeric field would refuse to decode.
	ContentLength string       `xml:"getcontentlength"`
	ContentType   string       `xml:"getcontenttype"`
	LastModified  string       `xml:"getlastmodified"`
	ETag          string       `xml:"getetag"`
	ResourceType  resourceType `xml:"resourcetype"`
	CalendarData  string       `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
	AddressData   string       `xml:"urn:ietf:params:xml:ns:carddav address-data"`
}

// Size returns the parsed content length, or 0 when absent.
func (p ItemProp) Size() int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(p.ContentLength), 10, 64)
	return n
}

type resourceType struct {
	Collection *struct{} `xml:"collection"`
}

// ParseMultistatus decodes a 207 body.
func ParseMultistatus(data []byte) (*Multistatus, error) {
	var ms Multistatus
	if err := xml.Unmarshal(data, &ms); err != nil {
		return nil, fmt.Errorf("dav: parse multistatus: %w", err)
	}
	return &ms, nil
}

// okProp returns the property set whose propstat carries a 200 status,
// falling back to the first propstat when none matched.
func (r *ItemResponse) okProp() *ItemProp {
	for i := range r.Propstat {
		if strings.Contains(r.Propstat[i].Status, "200") {
			return &r.Propstat[i].Prop
		}
	}
	if len(r.Propstat) > 0 {
		return &r.Propstat[0].Prop
	}
	return nil
}

// IsCollection reports whether the resource is a directory-like collection.
func (r *ItemResponse) IsCollection() bool {
	p := r.okProp()
	return p != nil && p.ResourceType.Collection != nil
}

// Prop returns the resource's successful property set, or a zero value.
func (r *ItemResponse) Prop() ItemProp {
	if p := r.okProp(); p != nil {
		return *p
	}
	return ItemProp{}
}

// CalendarData returns the iCalendar payload, if the reply carried one.
func (r *ItemResponse) CalendarData() string {
	if p := r.okProp(); p != nil {
		return p.CalendarData
	}
	return ""
}

// AddressData returns the vCard payload, if the reply carried one.
func (r *ItemResponse) AddressData() string {
	if p := r.okProp(); p != nil {
		return p.AddressData
	}
	return ""
}
