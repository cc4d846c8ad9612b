package content

import (
	"regexp"
	"strings"

	"github.com/parishlabs/steeple/internal/config"
	"github.com/parishlabs/steeple/internal/globalid"
	"github.com/parishlabs/steeple/internal/rock"
)

const summaryMaxLength = 140

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// ResolveType maps an upstream row onto its concrete API type using the
// configured channel and channel-type mappings.
func (s *Source) ResolveType(item rock.Record) string {
	channelID := item.Int("ContentChannelId")
	channelTypeID := item.Int("ContentChannelTypeId")

	if channelID == s.cfg.SermonChannelID && s.cfg.SermonChannelID != 0 {
		return TypeWeekend
	}
	switch {
	case containsInt(s.cfg.SermonChannelTypeIDs, channelTypeID):
		return TypeWeekend
	case containsInt(s.cfg.SeriesChannelTypeIDs, channelTypeID):
		return TypeSeries
	case containsInt(s.cfg.DevotionalChannelTypes, channelTypeID):
		return TypeDevotional
	case containsInt(s.cfg.MediaChannelTypeIDs, channelTypeID):
		return TypeMedia
	}
	return TypeUniversal
}

// NodeID returns the item's opaque node identifier.
func (s *Source) NodeID(item rock.Record) string {
	return globalid.Encode(item.ID(), s.ResolveType(item))
}

// CoverImage picks the item's cover image from its attribute values, falling
// back to the owning channel's image.
func (s *Source) CoverImage(item rock.Record) *Image {
	if attributes := item.Child("AttributeValues"); attributes != nil {
		for _, key := range []string{"ImageSquare", "Image", "CoverImage"} {
			if attribute := attributes.Child(key); attribute != nil {
				if url := attribute.String("Value"); url != "" {
					return &Image{Name: key, URL: url}
				}
			}
		}
	}
	if channel := item.Child("ContentChannel"); channel != nil {
		if url := channel.String("IconCssClass"); url != "" {
			return &Image{Name: "channel", URL: url}
		}
	}
	return nil
}

// Summary returns the item's summary attribute, or a truncated plain-text
// rendering of its body content.
func (s *Source) Summary(item rock.Record) string {
	if attributes := item.Child("AttributeValues"); attributes != nil {
		if attribute := attributes.Child("Summary"); attribute != nil {
			if value := strings.TrimSpace(attribute.String("Value")); value != "" {
				return value
			}
		}
	}

	plain := strings.TrimSpace(htmlTagPattern.ReplaceAllString(item.String("Content"), ""))
	if len(plain) <= summaryMaxLength {
		return plain
	}
	truncated := plain[:summaryMaxLength]
	if cut := strings.LastIndex(truncated, " "); cut > 0 {
		truncated = truncated[:cut]
	}
	return truncated + "…"
}

// ChannelName returns the expanded channel's name, when present.
func ChannelName(item rock.Record) string {
	if channel := item.Child("ContentChannel"); channel != nil {
		return channel.String("Name")
	}
	return ""
}

// FeaturesForItem derives the feature definitions a content item carries:
// scripture references from its attributes and the comment list shown under
// every item detail view.
func (s *Source) FeaturesForItem(item rock.Record) []config.FeatureDefinition {
	features := []config.FeatureDefinition{}
	if attributes := item.Child("AttributeValues"); attributes != nil {
		if scriptures := attributes.Child("Scriptures"); scriptures != nil {
			if references := strings.TrimSpace(scriptures.String("Value")); references != "" {
				features = append(features, config.FeatureDefinition{
					Type: "ScriptureFeature",
					Body: references,
				})
			}
		}
	}
	features = append(features, config.FeatureDefinition{
		Type:   "CommentListFeature",
		NodeID: s.NodeID(item),
	})
	return features
}

func containsInt(values []int, wanted int) bool {
	for _, value := range values {
		if value == wanted {
			return true
		}
	}
	return false
}
