// Package syncer pushes fetched documents to the record endpoint, one source
// URL at a time, creating or updating records according to a Policy.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/micahrl/fhirsync/internal/document"
	"github.com/micahrl/fhirsync/internal/logger"
	"github.com/micahrl/fhirsync/internal/remote"
)

// Options configures a Syncer.
type Options struct {
	Policy Policy
	// DryRun fetches and plans but never writes.
	DryRun bool
	Logger *logger.Logger
}

// Syncer runs the fetch, check and dispatch sequence for each source URL.
type Syncer struct {
	fetcher Fetcher
	remote  Remote
	policy  Policy
	dryRun  bool
	log     *logger.Logger
}

// New returns a Syncer. Fetcher and remote are required and opts.Policy must
// be a known policy.
func New(fetcher Fetcher, rem Remote, opts Options) (*Syncer, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if rem == nil {
		return nil, fmt.Errorf("remote is required")
	}
	if _, ok := policyNames[opts.Policy]; !ok {
		return nil, fmt.Errorf("invalid policy %s", opts.Policy)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Syncer{
		fetcher: fetcher,
		remote:  rem,
		policy:  opts.Policy,
		dryRun:  opts.DryRun,
		log:     log,
	}, nil
}

// Run processes urls in order. A failing URL is logged and recorded in the
// summary; the loop moves on. The returned error is non-nil only when the
// context is done or a failure escapes an item, in which case the summary
// holds the items finished so far.
func (s *Syncer) Run(ctx context.Context, urls []string) (summary *Summary, err error) {
	summary = &Summary{}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("General error during sync: %v", r)
			s.log.Error("Stack: %s", debug.Stack())
			err = fmt.Errorf("%w: %v", ErrAborted, r)
		}
	}()

	s.log.Section("Sync")
	s.log.Debug("policy %s, %d source URLs, dry run %v", s.policy, len(urls), s.dryRun)

	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if seen[u] {
			s.log.Debug("skipping repeated source URL %s", u)
			continue
		}
		seen[u] = true
		summary.Results = append(summary.Results, s.syncOne(ctx, u))
	}

	s.log.Info("All documents have been processed: %s", summary)
	s.log.Section("Done")
	return summary, nil
}

func (s *Syncer) syncOne(ctx context.Context, url string) ItemResult {
	result := ItemResult{URL: url}
	s.log.Info("Processing: %s", url)

	doc, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return s.fail(result, err)
	}
	s.log.Info("JSON obtained successfully from %s", url)

	plan, err := s.ComputePlan(ctx, doc)
	if err != nil {
		return s.fail(result, err)
	}
	result.Plan = plan

	if s.dryRun {
		result.Outcome = OutcomePlanned
		return result
	}

	switch plan.Action {
	case ActionSkip:
		s.log.Info("Skipping %s: %s", url, plan.Reason)
		result.Outcome = OutcomeSkipped
		return result
	case ActionUpdate:
		s.log.Info("Document from %s already exists on server. Updating record %s.", url, plan.RemoteID)
	case ActionCreate:
		s.log.Info("Uploading document from %s.", url)
	}

	status, err := s.Apply(ctx, doc, plan)
	result.StatusCode = status
	if err != nil {
		return s.fail(result, err)
	}

	if plan.Action == ActionUpdate {
		result.Outcome = OutcomeUpdated
		s.log.Info("JSON updated successfully at record %s (status %d)", plan.RemoteID, status)
	} else {
		result.Outcome = OutcomeCreated
		s.log.Info("JSON uploaded successfully (status %d)", status)
	}
	return result
}

// ComputePlan decides whether doc is created, updated or skipped. Search
// errors are logged and read as "not found", so they lead to a create.
func (s *Syncer) ComputePlan(ctx context.Context, doc *document.Document) (Plan, error) {
	identifier, hasIdentifier := doc.IdentifierValue()

	if !s.policy.searches() {
		return Plan{Action: ActionCreate, Identifier: identifier}, nil
	}

	// Identity cannot be verified, so the document is treated as already
	// present rather than risking a duplicate.
	if !hasIdentifier {
		s.log.Warn("Document has no identifier.value, cannot check if it exists")
		return Plan{Action: ActionSkip, Reason: ErrNoIdentifier.Error()}, nil
	}

	s.log.Debug("checking existence of identifier %s", identifier)
	found, err := s.remote.Search(ctx, identifier)
	if err != nil {
		s.log.Error("Error checking if document exists with identifier.value %s: %v", identifier, err)
		return Plan{Action: ActionCreate, Identifier: identifier}, nil
	}
	if !found.Found() {
		s.log.Info("No document found with identifier.value = %s", identifier)
		return Plan{Action: ActionCreate, Identifier: identifier}, nil
	}
	s.log.Info("Found document with identifier.value = %s", identifier)

	switch s.policy {
	case SkipIfExists:
		return Plan{Action: ActionSkip, Identifier: identifier, RemoteID: found.ID, Reason: "record already exists"}, nil
	default:
		if found.ID == "" {
			return Plan{}, fmt.Errorf("identifier %s: %w", identifier, ErrMissingRemoteID)
		}
		return Plan{Action: ActionUpdate, Identifier: identifier, RemoteID: found.ID}, nil
	}
}

// Apply performs the single write plan calls for and returns its status.
// An update is never followed by a create.
func (s *Syncer) Apply(ctx context.Context, doc *document.Document, plan Plan) (int, error) {
	var (
		resp *remote.Response
		err  error
	)
	switch plan.Action {
	case ActionCreate:
		resp, err = s.remote.Create(ctx, doc.Raw)
	case ActionUpdate:
		body, encErr := doc.WithID(plan.RemoteID)
		if encErr != nil {
			return 0, fmt.Errorf("preparing update of %s: %w", plan.RemoteID, encErr)
		}
		resp, err = s.remote.Update(ctx, plan.RemoteID, body)
	default:
		return 0, nil
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		return status, fmt.Errorf("%s failed: %w", plan.Action, err)
	}
	return status, nil
}

func (s *Syncer) fail(result ItemResult, err error) ItemResult {
	result.Outcome = OutcomeFailed
	result.Err = err

	s.log.Error("Error processing %s:", result.URL)
	s.log.Error("Message: %v", err)
	var httpErr *remote.HTTPError
	if errors.As(err, &httpErr) {
		result.StatusCode = httpErr.StatusCode
		s.log.Error("Status: %d", httpErr.StatusCode)
		s.log.Error("Data: %s", httpErr.Body)
	}
	return result
}
