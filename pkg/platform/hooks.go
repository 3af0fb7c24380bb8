package platform

import (
	"context"
	"errors"
	"net/http"
)

// Subscription event types for PR lifecycle notifications.
const (
	EventTypePRCreated = "git.pullrequest.created"
	EventTypePRUpdated = "git.pullrequest.updated"
)

const (
	hookPublisherID      = "tfs"
	hookConsumerID       = "webHooks"
	hookConsumerActionID = "httpRequest"
	hookResourceVersion  = "1.0"
)

type adoSubscription struct {
	ID               string            `json:"id,omitempty"`
	PublisherID      string            `json:"publisherId"`
	EventType        string            `json:"eventType"`
	ResourceVersion  string            `json:"resourceVersion"`
	ConsumerID       string            `json:"consumerId"`
	ConsumerActionID string            `json:"consumerActionId"`
	PublisherInputs  map[string]string `json:"publisherInputs"`
	ConsumerInputs   map[string]string `json:"consumerInputs"`
}

// RegisterHook creates one webhook subscription delivering the given event
// type for the repository to webhookURL, and returns the subscription id.
// One subscription covers one event type; callers register created and
// updated separately.
func (c *Client) RegisterHook(ctx context.Context, projectID, repoID, webhookURL, eventType string) (string, error) {
	sub := adoSubscription{
		PublisherID:      hookPublisherID,
		EventType:        eventType,
		ResourceVersion:  hookResourceVersion,
		ConsumerID:       hookConsumerID,
		ConsumerActionID: hookConsumerActionID,
		PublisherInputs: map[string]string{
			"projectId":  projectID,
			"repository": repoID,
			// Empty branch subscribes to all branches.
			"branch": "",
		},
		ConsumerInputs: map[string]string{"url": webhookURL},
	}

	var created adoSubscription
	if err := c.call(ctx, "register_hook", http.MethodPost, "/_apis/hooks/subscriptions", nil, sub, &created); err != nil {
		return "", err
	}

	c.logger.InfoContext(ctx, "registered service hook",
		"repository_id", repoID, "event_type", eventType, "hook_id", created.ID)
	return created.ID, nil
}

// UnregisterHook deletes a webhook subscription. A subscription that is
// already gone counts as success.
func (c *Client) UnregisterHook(ctx context.Context, hookID string) error {
	err := c.call(ctx, "unregister_hook", http.MethodDelete, "/_apis/hooks/subscriptions/"+hookID, nil, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "unregistered service hook", "hook_id", hookID)
	return nil
}
