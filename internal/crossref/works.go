// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package crossref

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/doi-recovery/pkg/types"
)

// CrossRef API JSON structures.
type worksResponse struct {
	Status      string          `json:"status"`
	MessageType string          `json:"message-type"`
	Message     json.RawMessage `json:"message"`
}

type workList struct {
	TotalResults int            `json:"total-results"`
	Items        []crossrefWork `json:"items"`
}

type crossrefWork struct {
	DOI                 string           `json:"DOI"`
	Title               []string         `json:"title"`
	Author              []crossrefAuthor `json:"author"`
	ContainerTitle      []string         `json:"container-title"`
	ShortContainerTitle []string         `json:"short-container-title"`
	Volume              string           `json:"volume"`
	Issue               string           `json:"issue"`
	Page                string           `json:"page"`
	Issued              crossrefDate     `json:"issued"`
	PublishedPrint      crossrefDate     `json:"published-print"`
	PublishedOnline     crossrefDate     `json:"published-online"`
}

type crossrefAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
	Name   string `json:"name"`
}

type crossrefDate struct {
	DateParts [][]*int `json:"date-parts"`
}

func (d crossrefDate) year() int {
	if len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 || d.DateParts[0][0] == nil {
		return 0
	}
	return *d.DateParts[0][0]
}

// decodeWorks parses a /works response body. Any deviation from the expected
// envelope is reported as ErrMalformedResponse.
func decodeWorks(body []byte) (types.LookupResult, error) {
	var env worksResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return types.LookupResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Status != "ok" {
		return types.LookupResult{}, fmt.Errorf("%w: status %q", ErrMalformedResponse, env.Status)
	}

	var items []crossrefWork
	switch env.MessageType {
	case "work-list":
		var list workList
		if err := json.Unmarshal(env.Message, &list); err != nil {
			return types.LookupResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		items = list.Items
	case "work":
		var w crossrefWork
		if err := json.Unmarshal(env.Message, &w); err != nil {
			return types.LookupResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		items = []crossrefWork{w}
	default:
		return types.LookupResult{}, fmt.Errorf("%w: message-type %q", ErrMalformedResponse, env.MessageType)
	}

	var res types.LookupResult
	for _, it := range items {
		if it.DOI == "" {
			continue
		}
		res.Works = append(res.Works, it.toWork())
	}
	return res, nil
}

func (w crossrefWork) toWork() types.Work {
	out := types.Work{
		DOI:          strings.ToLower(strings.TrimSpace(w.DOI)),
		Title:        first(w.Title),
		Volume:       w.Volume,
		Issue:        w.Issue,
		Page:         w.Page,
		Venue:        first(w.ContainerTitle),
		VenueAliases: w.ShortContainerTitle,
	}
	if len(w.ContainerTitle) > 1 {
		out.VenueAliases = append(out.VenueAliases, w.ContainerTitle[1:]...)
	}
	for _, d := range []crossrefDate{w.Issued, w.PublishedPrint, w.PublishedOnline} {
		if y := d.year(); y > 0 {
			out.Year = y
			break
		}
	}
	for _, a := range w.Author {
		if name := a.format(); name != "" {
			out.Authors = append(out.Authors, name)
		}
	}
	return out
}

// format renders an author as "Family, G." to match candidate records.
func (a crossrefAuthor) format() string {
	family := strings.TrimSpace(a.Family)
	if family == "" {
		return strings.TrimSpace(a.Name)
	}
	given := strings.TrimSpace(a.Given)
	if given == "" {
		return family
	}
	r, _ := utf8.DecodeRuneInString(given)
	return family + ", " + string(r) + "."
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return strings.TrimSpace(s[0])
}
