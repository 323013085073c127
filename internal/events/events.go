// Package events classifies raw invocation payloads into reconciliation
// triggers.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	awsevents "github.com/aws/aws-lambda-go/events"

	"github.com/wolfeidau/cidsync/internal/reconciler"
)

// ErrMalformedEvent indicates a payload that matched no known invocation
// shape.
var ErrMalformedEvent = errors.New("malformed invocation payload")

// Mode of an invocation.
type Mode string

const (
	// ModeMove reconciles a single account after an organization change
	// event.
	ModeMove Mode = "move"
	// ModeBulk reconciles every account in the organization.
	ModeBulk Mode = "bulk"
	// ModeUpdate runs the template update pass over existing deployments.
	ModeUpdate Mode = "update"
)

// Invocation is a classified payload.
type Invocation struct {
	Mode Mode
	Move *reconciler.MoveEvent
}

// moveAccountDetail is the CloudTrail detail carried by the EventBridge
// MoveAccount event.
type moveAccountDetail struct {
	EventName         string `json:"eventName"`
	RequestParameters struct {
		AccountID           string `json:"accountId"`
		DestinationParentID string `json:"destinationParentId"`
		SourceParentID      string `json:"sourceParentId"`
	} `json:"requestParameters"`
}

// directInvocation is the shape of bulk and update trigger payloads.
type directInvocation struct {
	Mode string `json:"mode"`
}

// Parse classifies a raw invocation payload. An empty payload or `{}` is a
// bulk registration, `{"mode":"update"}` triggers the update reconciler, and
// an EventBridge MoveAccount event yields a single-account reconciliation.
func Parse(payload []byte) (*Invocation, error) {
	if len(payload) == 0 {
		return &Invocation{Mode: ModeBulk}, nil
	}

	var envelope awsevents.CloudWatchEvent
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if envelope.Source == "aws.organizations" {
		return parseMove(envelope.Detail)
	}

	var direct directInvocation
	if err := json.Unmarshal(payload, &direct); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch direct.Mode {
	case "", "bulk":
		return &Invocation{Mode: ModeBulk}, nil
	case "update":
		return &Invocation{Mode: ModeUpdate}, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrMalformedEvent, direct.Mode)
	}
}

func parseMove(detail json.RawMessage) (*Invocation, error) {
	var parsed moveAccountDetail
	if err := json.Unmarshal(detail, &parsed); err != nil {
		return nil, fmt.Errorf("%w: bad organizations event detail: %v", ErrMalformedEvent, err)
	}

	if parsed.EventName != "MoveAccount" {
		return nil, fmt.Errorf("%w: unsupported organizations event %q", ErrMalformedEvent, parsed.EventName)
	}
	if parsed.RequestParameters.AccountID == "" || parsed.RequestParameters.DestinationParentID == "" {
		return nil, fmt.Errorf("%w: MoveAccount event missing account or destination", ErrMalformedEvent)
	}

	return &Invocation{
		Mode: ModeMove,
		Move: &reconciler.MoveEvent{
			AccountID:     parsed.RequestParameters.AccountID,
			DestinationOU: parsed.RequestParameters.DestinationParentID,
			SourceOU:      parsed.RequestParameters.SourceParentID,
		},
	}, nil
}
