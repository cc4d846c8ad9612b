// Package feeds assembles personalized feature feeds by running named action
// algorithms against upstream content and wrapping their results in orderable
// feature nodes.
package feeds

import (
	"fmt"

	"github.com/parishlabs/steeple/internal/content"
	"github.com/parishlabs/steeple/internal/rock"
)

// ActionKind tells the client what tapping an action does.
type ActionKind string

const (
	// ActionReadContent opens the related node's detail view.
	ActionReadContent ActionKind = "READ_CONTENT"
)

// EmptyCardID marks the synthetic action some algorithms emit when they have
// nothing to show.
const EmptyCardID = "EmptyCard"

// RelatedNode references the entity behind an action with an explicit type
// discriminant, so clients dispatch without a second round-trip.
type RelatedNode struct {
	ID       string      `json:"id,omitempty"`
	TypeName string      `json:"__type"`
	Message  string      `json:"message,omitempty"`
	Record   rock.Record `json:"record,omitempty"`
}

// Action is a single actionable card inside a feature.
type Action struct {
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Subtitle    string         `json:"subtitle,omitempty"`
	RelatedNode *RelatedNode   `json:"relatedNode,omitempty"`
	Image       *content.Image `json:"image,omitempty"`
	Action      ActionKind     `json:"action,omitempty"`
	Summary     string         `json:"summary,omitempty"`
}

// actionID appends the zero-based position within one algorithm's result list
// to the record id, so two algorithms in the same request never collide and
// repeated items across pages stay distinguishable.
func actionID(recordID string, position int) string {
	return fmt.Sprintf("%s%d", recordID, position)
}
