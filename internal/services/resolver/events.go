// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package resolver

import "encoding/json"

// Event types emitted on a search's progress stream. Every stream starts
// with search_id and ends with exactly one of done, cancelled or error.
const (
	EventSearchID  = "search_id"
	EventProgress  = "progress"
	EventResult    = "result"
	EventDone      = "done"
	EventCancelled = "cancelled"
	EventError     = "error"
)

// Event is one frame of the progress stream. Marshaling is per type so every
// frame carries exactly its contract fields: done always includes total and
// elapsedSeconds, progress always includes current and total, and no frame
// leaks another type's zero values.
type Event struct {
	Type string

	// search_id
	ID string

	// progress
	Stage  string
	Detail string

	// progress and done
	Current int
	Total   int

	// result
	Torrent *Result

	// done
	ElapsedSeconds float64

	// error
	Message string
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventSearchID:
		return json.Marshal(struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}{e.Type, e.ID})

	case EventProgress:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Stage   string `json:"stage"`
			Detail  string `json:"detail"`
			Current int    `json:"current"`
			Total   int    `json:"total"`
		}{e.Type, e.Stage, e.Detail, e.Current, e.Total})

	case EventResult:
		return json.Marshal(struct {
			Type    string  `json:"type"`
			Torrent *Result `json:"torrent"`
		}{e.Type, e.Torrent})

	case EventDone:
		return json.Marshal(struct {
			Type           string  `json:"type"`
			Total          int     `json:"total"`
			ElapsedSeconds float64 `json:"elapsedSeconds"`
		}{e.Type, e.Total, e.ElapsedSeconds})

	case EventError:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{e.Type, e.Message})

	default:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{e.Type})
	}
}

// Result is one resolved candidate with directly playable links. Cached
// reports whether the release content was already fully present in the
// remote cache when the search ran.
type Result struct {
	Title      string       `json:"title"`
	Categories []string     `json:"categories"`
	Seeders    int          `json:"seeders"`
	Leechers   int          `json:"leechers"`
	Size       string       `json:"size,omitempty"`
	Cached     bool         `json:"cached"`
	Resolution string       `json:"resolution,omitempty"`
	Group      string       `json:"group,omitempty"`
	Year       int          `json:"year,omitempty"`
	Files      []FileResult `json:"files"`
}

// FileResult is a playable file within a result. PlayableURL is always a
// translated direct link, never a raw remote one.
type FileResult struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	PlayableURL string `json:"playableUrl"`
}

func searchIDEvent(id string) Event {
	return Event{Type: EventSearchID, ID: id}
}

func progressEvent(stage, detail string, current, total int) Event {
	return Event{Type: EventProgress, Stage: stage, Detail: detail, Current: current, Total: total}
}

func resultEvent(result *Result) Event {
	return Event{Type: EventResult, Torrent: result}
}

func doneEvent(total int, elapsedSeconds float64) Event {
	return Event{Type: EventDone, Total: total, ElapsedSeconds: elapsedSeconds}
}

func cancelledEvent() Event {
	return Event{Type: EventCancelled}
}

func errorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}
