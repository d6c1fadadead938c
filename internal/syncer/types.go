package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/micahrl/fhirsync/internal/document"
	"github.com/micahrl/fhirsync/internal/remote"
)

var (
	// ErrNoIdentifier marks a document without identifier[0].value.
	ErrNoIdentifier = errors.New("document has no identifier value")
	// ErrMissingRemoteID marks a search hit whose first entry has no resource id.
	ErrMissingRemoteID = errors.New("search matched a record without resource id")
	// ErrAborted wraps a failure that escaped a single item.
	ErrAborted = errors.New("sync aborted")
)

// Fetcher retrieves the document behind a source URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*document.Document, error)
}

// Remote abstracts the record endpoint.
type Remote interface {
	Search(ctx context.Context, identifier string) (remote.SearchResult, error)
	Create(ctx context.Context, body []byte) (*remote.Response, error)
	Update(ctx context.Context, id string, body []byte) (*remote.Response, error)
}

// Action is what a plan decides to do with one document.
type Action int

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionSkip:
		return "skip"
	}
	return "unknown"
}

// Plan describes the write needed for one document.
type Plan struct {
	Action     Action
	Identifier string
	// RemoteID is set for ActionUpdate, and for ActionSkip when the skip
	// came from a search hit.
	RemoteID string
	// Reason explains a skip.
	Reason string
}

// Outcome is the final state of one source URL.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	OutcomeSkipped
	OutcomePlanned
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	case OutcomePlanned:
		return "planned"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// ItemResult is the record of one processed source URL.
type ItemResult struct {
	URL     string
	Plan    Plan
	Outcome Outcome
	// StatusCode is the HTTP status of the write, or of the failing call.
	StatusCode int
	Err        error
}

// Summary holds every item result of a run, in processing order.
type Summary struct {
	Results []ItemResult
}

// Counts tallies results per outcome.
func (s *Summary) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, r := range s.Results {
		counts[r.Outcome]++
	}
	return counts
}

// Failed returns the failed items.
func (s *Summary) Failed() []ItemResult {
	var failed []ItemResult
	for _, r := range s.Results {
		if r.Outcome == OutcomeFailed {
			failed = append(failed, r)
		}
	}
	return failed
}

// String renders the one-line run summary.
func (s *Summary) String() string {
	c := s.Counts()
	return fmt.Sprintf("%d processed, %d created, %d updated, %d skipped, %d planned, %d failed",
		len(s.Results), c[OutcomeCreated], c[OutcomeUpdated], c[OutcomeSkipped], c[OutcomePlanned], c[OutcomeFailed])
}
