package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is one status record streamed by a worker. Exactly one record is
// current for a run; a newer record replaces it wholesale.
type Record struct {
	Message   string   `json:"message,omitempty"`
	Link      string   `json:"link,omitempty"`
	GitHub    *GitHub  `json:"github,omitempty"`
	IRC       *IRC     `json:"irc,omitempty"`
	Extras    []string `json:"extras,omitempty"`
	OnAborted *Record  `json:"onaborted,omitempty"`

	// Other holds top-level fields that are carried through untouched.
	Other map[string]json.RawMessage `json:"-"`
}

// GitHub describes how a record is reported to GitHub. Resource and Status
// drive the legacy status reporter; Token and Requests drive chained requests.
type GitHub struct {
	Resource string         `json:"resource,omitempty"`
	Status   map[string]any `json:"status,omitempty"`
	Token    string         `json:"token,omitempty"`
	Requests []Request      `json:"requests,omitempty"`

	Other map[string]json.RawMessage `json:"-"`
}

// Request is one step of a chained GitHub request sequence. Resource and
// Data may contain ":name.path" placeholders.
type Request struct {
	Method   string `json:"method,omitempty"`
	Resource string `json:"resource"`
	Data     any    `json:"data,omitempty"`
	Result   string `json:"result,omitempty"`
}

// IRC names the channel a record's message is relayed to.
type IRC struct {
	Channel string `json:"channel"`
}

// ParseRecord decodes a single status line. Only JSON objects are records;
// any other JSON value is rejected.
func ParseRecord(line []byte) (Record, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Record{}, fmt.Errorf("status line is not a JSON object")
	}
	var rec Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return Record{}, fmt.Errorf("decode status: %w", err)
	}
	return rec, nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	data, err := json.Marshal(r)
	if err != nil {
		// Every Record produced by ParseRecord round-trips.
		panic(fmt.Sprintf("core: clone record: %v", err))
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("core: clone record: %v", err))
	}
	return out
}

// Redacted returns a copy with GitHub credentials removed, including those
// of the nested onaborted record.
func (r Record) Redacted() Record {
	out := r.Clone()
	for rec := &out; rec != nil; rec = rec.OnAborted {
		if rec.GitHub != nil {
			rec.GitHub.Token = ""
		}
	}
	return out
}

// HasGitHubStatus reports whether the record carries a legacy GitHub status.
func (r Record) HasGitHubStatus() bool {
	return r.GitHub != nil && r.GitHub.Resource != "" && r.GitHub.Status != nil
}

// HasGitHubRequests reports whether the record carries a chained request sequence.
func (r Record) HasGitHubRequests() bool {
	return r.GitHub != nil && r.GitHub.Token != "" && len(r.GitHub.Requests) > 0
}

var recordKeys = []string{"message", "link", "github", "irc", "extras", "onaborted"}

var githubKeys = []string{"resource", "status", "token", "requests"}

type recordFields Record

type githubFields GitHub

func (r *Record) UnmarshalJSON(data []byte) error {
	var fields recordFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	other, err := leftover(data, recordKeys)
	if err != nil {
		return err
	}
	fields.Other = other
	*r = Record(fields)
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(recordFields(r))
	if err != nil {
		return nil, err
	}
	return merge(data, r.Other)
}

func (g *GitHub) UnmarshalJSON(data []byte) error {
	var fields githubFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	other, err := leftover(data, githubKeys)
	if err != nil {
		return err
	}
	fields.Other = other
	*g = GitHub(fields)
	return nil
}

func (g GitHub) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(githubFields(g))
	if err != nil {
		return nil, err
	}
	return merge(data, g.Other)
}

// leftover returns the members of the JSON object data not named in known.
func leftover(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, key := range known {
		delete(all, key)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// merge adds extra members to the encoded JSON object data. Members already
// present in data win.
func merge(data []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return data, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for key, value := range extra {
		if _, ok := all[key]; !ok {
			all[key] = value
		}
	}
	return json.Marshal(all)
}
