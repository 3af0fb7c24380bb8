package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/store"
)

// EventQueue is the enqueue surface of the state store.
type EventQueue interface {
	Enqueue(ctx context.Context, event *models.PREvent) (*models.QueueEntry, error)
}

// RepositoryDirectory answers whether a repository is registered for review.
type RepositoryDirectory interface {
	GetByLocation(ctx context.Context, organization, project, name string) (*models.Repository, error)
}

// IngestStatus is the soft outcome of accepting a webhook. Hard failures
// (bad signature, malformed payload) surface as errors instead.
type IngestStatus string

const (
	// IngestAccepted means the event was normalized and enqueued.
	IngestAccepted IngestStatus = "accepted"
	// IngestDuplicate means an entry with the same dedup key is already
	// queued or running; the event was dropped.
	IngestDuplicate IngestStatus = "duplicate"
	// IngestUnregistered means the repository is not registered for review;
	// the event was acked and dropped so the platform does not retry.
	IngestUnregistered IngestStatus = "unregistered"
)

// IngestResult reports what happened to an accepted webhook.
type IngestResult struct {
	Status IngestStatus
	Event  *models.PREvent
	Entry  *models.QueueEntry
}

// IngestService is the webhook front door: it verifies, normalizes, and
// enqueues pull-request events. It does no platform I/O, so the webhook
// handler can always answer inside the platform's delivery timeout.
type IngestService struct {
	queue        EventQueue
	repos        RepositoryDirectory
	organization string
	secret       []byte
	logger       *slog.Logger
}

// NewIngestService creates an IngestService. An empty secret disables
// signature verification.
func NewIngestService(queue EventQueue, repos RepositoryDirectory, organization, secret string, logger *slog.Logger) *IngestService {
	if queue == nil {
		panic("NewIngestService: queue must not be nil")
	}
	if repos == nil {
		panic("NewIngestService: repos must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &IngestService{
		queue:        queue,
		repos:        repos,
		organization: organization,
		secret:       key,
		logger:       logger.With("component", "ingest"),
	}
}

// adoWebhook mirrors the slice of the Azure DevOps service-hook payload the
// ingestor reads. Everything else in the payload is ignored.
type adoWebhook struct {
	EventType string `json:"eventType"`
	Resource  struct {
		PullRequestID int    `json:"pullRequestId"`
		Status        string `json:"status"`
		SourceRefName string `json:"sourceRefName"`
		TargetRefName string `json:"targetRefName"`
		Title         string `json:"title"`
		Description   string `json:"description"`
		CreatedBy     struct {
			UniqueName  string `json:"uniqueName"`
			DisplayName string `json:"displayName"`
		} `json:"createdBy"`
		LastMergeSourceCommit struct {
			CommitID string `json:"commitId"`
		} `json:"lastMergeSourceCommit"`
		LastMergeTargetCommit struct {
			CommitID string `json:"commitId"`
		} `json:"lastMergeTargetCommit"`
		// IterationID is present on some update deliveries; when absent the
		// source commit keys the dedup instead.
		IterationID int `json:"iterationId"`
		Repository  struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Project struct {
				Name string `json:"name"`
			} `json:"project"`
		} `json:"repository"`
	} `json:"resource"`
}

// Accept verifies, parses, and enqueues one webhook delivery.
//
// Soft outcomes (unregistered repository, duplicate event) return a result
// and no error: the platform must not retry those. ErrUnauthorizedWebhook,
// ErrEventIgnored, and ErrMalformedEvent classify the hard ones.
func (s *IngestService) Accept(ctx context.Context, payload []byte, signature string) (*IngestResult, error) {
	if len(s.secret) > 0 {
		if err := s.verifySignature(payload, signature); err != nil {
			return nil, err
		}
	}

	event, repoName, projectName, err := s.parse(payload)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(
		"pr_id", event.PRID,
		"repository_id", event.RepositoryID,
		"event_kind", string(event.EventKind))

	repo, err := s.repos.GetByLocation(ctx, s.organization, projectName, repoName)
	if errors.Is(err, ErrNotFound) {
		log.InfoContext(ctx, "webhook for unregistered repository, dropping",
			"project", projectName, "repository", repoName)
		return &IngestResult{Status: IngestUnregistered, Event: event}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up repository: %w", err)
	}

	entry, err := s.queue.Enqueue(ctx, event)
	if errors.Is(err, store.ErrDuplicateEvent) {
		log.InfoContext(ctx, "duplicate webhook delivery, dropping",
			"dedup_key", event.DedupKey())
		return &IngestResult{Status: IngestDuplicate, Event: event}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue event: %w", err)
	}

	log.InfoContext(ctx, "review event accepted",
		"entry_id", entry.ID, "repository", repo.Name, "iteration", event.IterationID)
	return &IngestResult{Status: IngestAccepted, Event: event, Entry: entry}, nil
}

// verifySignature checks the HMAC-SHA256 hex signature over the raw body.
// An optional "sha256=" prefix is accepted.
func (s *IngestService) verifySignature(payload []byte, signature string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return fmt.Errorf("%w: missing signature", ErrUnauthorizedWebhook)
	}

	given, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrUnauthorizedWebhook)
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return ErrUnauthorizedWebhook
	}
	return nil
}

// parse maps the payload to a PREvent plus the repository coordinates used
// for the registration lookup.
func (s *IngestService) parse(payload []byte) (*models.PREvent, string, string, error) {
	var wh adoWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, "", "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	kind, err := eventKindFor(wh.EventType)
	if err != nil {
		return nil, "", "", err
	}

	if wh.Resource.PullRequestID == 0 {
		return nil, "", "", fmt.Errorf("%w: missing resource.pullRequestId", ErrMalformedEvent)
	}
	if wh.Resource.Repository.ID == "" {
		return nil, "", "", fmt.Errorf("%w: missing resource.repository.id", ErrMalformedEvent)
	}

	author := wh.Resource.CreatedBy.UniqueName
	if author == "" {
		author = wh.Resource.CreatedBy.DisplayName
	}

	event := &models.PREvent{
		EventKind:    kind,
		PRID:         strconv.Itoa(wh.Resource.PullRequestID),
		RepositoryID: wh.Resource.Repository.ID,
		SourceBranch: wh.Resource.SourceRefName,
		TargetBranch: wh.Resource.TargetRefName,
		SourceCommit: wh.Resource.LastMergeSourceCommit.CommitID,
		TargetCommit: wh.Resource.LastMergeTargetCommit.CommitID,
		Author:       author,
		Title:        wh.Resource.Title,
		Description:  wh.Resource.Description,
		IterationID:  wh.Resource.IterationID,
		ReceivedAt:   time.Now().UTC(),
	}
	return event, wh.Resource.Repository.Name, wh.Resource.Repository.Project.Name, nil
}

// eventKindFor maps the platform event type to the internal kind. The
// publisher prefix varies ("git." on ADO Services, "tfs.git." on Server),
// so only the suffix is matched.
func eventKindFor(eventType string) (models.EventKind, error) {
	switch {
	case strings.HasSuffix(eventType, ".pullrequest.created"):
		return models.EventKindCreated, nil
	case strings.HasSuffix(eventType, ".pullrequest.updated"):
		return models.EventKindUpdated, nil
	case eventType == "":
		return "", fmt.Errorf("%w: missing eventType", ErrMalformedEvent)
	default:
		return "", fmt.Errorf("%w: %s", ErrEventIgnored, eventType)
	}
}
