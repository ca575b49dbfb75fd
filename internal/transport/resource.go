package transport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"qservworker/internal/task"
)

// ResourceKind distinguishes the two resource path shapes a session can be
// provisioned against.
type ResourceKind int

const (
	ResourceChunk ResourceKind = iota
	ResourceResult
)

// Resource is a parsed `/chunk/<db>/<chunk_id>` or
// `/result/<hash>[?k=v&k=v]` path.
type Resource struct {
	Kind    ResourceKind
	DB      string
	ChunkID int64
	Hash    string
	Query   url.Values
}

// ParseResource parses a resource path. Malformed paths are reported as
// ErrorKindBadRequest, matching the wire protocol's framing-vs-request
// error split: a bad path is a bad request, not a bad frame.
func ParseResource(path string) (Resource, error) {
	rawPath, rawQuery, _ := strings.Cut(path, "?")
	parts := strings.Split(strings.TrimPrefix(rawPath, "/"), "/")

	switch {
	case len(parts) == 3 && parts[0] == "chunk":
		chunkID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || chunkID < 0 {
			return Resource{}, task.NewError(task.ErrorKindBadRequest, "invalid chunk id in resource path %q", path)
		}
		return Resource{Kind: ResourceChunk, DB: parts[1], ChunkID: chunkID}, nil
	case len(parts) == 2 && parts[0] == "result":
		q, err := url.ParseQuery(rawQuery)
		if err != nil {
			return Resource{}, task.NewError(task.ErrorKindBadRequest, "invalid query in resource path %q: %v", path, err)
		}
		return Resource{Kind: ResourceResult, Hash: parts[1], Query: q}, nil
	default:
		return Resource{}, task.NewError(task.ErrorKindBadRequest, "unrecognized resource path %q", path)
	}
}

// String renders the resource back to its canonical path form.
func (r Resource) String() string {
	switch r.Kind {
	case ResourceChunk:
		return fmt.Sprintf("/chunk/%s/%d", r.DB, r.ChunkID)
	case ResourceResult:
		if len(r.Query) == 0 {
			return fmt.Sprintf("/result/%s", r.Hash)
		}
		return fmt.Sprintf("/result/%s?%s", r.Hash, r.Query.Encode())
	default:
		return ""
	}
}

// MatchesQuery reports whether a QUERY request's db/chunk match this
// resource, per the RouteMismatch rule in the failure-behavior section.
func (r Resource) MatchesQuery(db string, chunk int64) bool {
	return r.Kind == ResourceChunk && r.DB == db && r.ChunkID == chunk
}
