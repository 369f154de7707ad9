package roku

import "fmt"

// Media classes of browse nodes.
const (
	MediaClassApp       = "app"
	MediaClassChannel   = "channel"
	MediaClassDirectory = "directory"
)

// BrowseMedia is one node of the media browse tree.
type BrowseMedia struct {
	Title              string         `json:"title"`
	MediaClass         string         `json:"media_class"`
	MediaContentType   string         `json:"media_content_type"`
	MediaContentID     string         `json:"media_content_id"`
	CanPlay            bool           `json:"can_play"`
	CanExpand          bool           `json:"can_expand"`
	ChildrenMediaClass string         `json:"children_media_class,omitempty"`
	Thumbnail          string         `json:"thumbnail,omitempty"`
	Children           []*BrowseMedia `json:"children,omitempty"`
}

// ThumbnailResolver returns the thumbnail URL for a browse item, or "".
type ThumbnailResolver func(contentType, contentID string) string

// contentTypeMediaClass maps content types to the media class of nodes
// holding them.
var contentTypeMediaClass = map[string]string{
	MediaTypeApp:      MediaClassApp,
	MediaTypeApps:     MediaClassApp,
	MediaTypeChannel:  MediaClassChannel,
	MediaTypeChannels: MediaClassChannel,
}

func isPlayable(contentType string) bool {
	return contentType == MediaTypeApp || contentType == MediaTypeChannel
}

func isExpandable(contentType string) bool {
	return contentType == MediaTypeApps || contentType == MediaTypeChannels
}

// browseItem is a listing entry before it becomes a node.
type browseItem struct {
	title       string
	contentType string
	contentID   string
}

// libraryPayload builds the browse root. Channels are offered only on TVs.
func libraryPayload(d *Device, thumbnail ThumbnailResolver) *BrowseMedia {
	root := &BrowseMedia{
		Title:            "Media Library",
		MediaClass:       MediaClassDirectory,
		MediaContentType: MediaTypeLibrary,
		MediaContentID:   MediaTypeLibrary,
		CanExpand:        true,
		Children:         []*BrowseMedia{},
	}

	root.Children = append(root.Children,
		itemPayload(browseItem{title: "Apps", contentType: MediaTypeApps}, thumbnail))
	if d != nil && d.Info.DeviceType == DeviceTypeTV {
		root.Children = append(root.Children,
			itemPayload(browseItem{title: "Channels", contentType: MediaTypeChannels}, thumbnail))
	}

	switch {
	case allChildrenOfType(root.Children, MediaTypeApps):
		root.ChildrenMediaClass = MediaClassApp
	case allChildrenOfType(root.Children, MediaTypeChannels):
		root.ChildrenMediaClass = MediaClassChannel
	}

	return root
}

func allChildrenOfType(children []*BrowseMedia, contentType string) bool {
	for _, child := range children {
		if child.MediaContentType != contentType {
			return false
		}
	}
	return true
}

// buildItemResponse builds the listing for contentType. Types other than
// apps and channels return ErrMediaNotFound; an empty listing is not an error.
func buildItemResponse(d *Device, contentType, contentID string, thumbnail ThumbnailResolver) (*BrowseMedia, error) {
	var (
		title      string
		items      []browseItem
		childClass string
	)

	switch contentType {
	case MediaTypeApps:
		title = "Apps"
		childClass = MediaClassApp
		if d != nil {
			for _, app := range d.Apps {
				items = append(items, browseItem{title: app.Name, contentType: MediaTypeApp, contentID: app.AppID})
			}
		}
	case MediaTypeChannels:
		title = "Channels"
		childClass = MediaClassChannel
		if d != nil {
			for _, ch := range d.Channels {
				items = append(items, browseItem{title: ch.Name, contentType: MediaTypeChannel, contentID: ch.Number})
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s / %s", ErrMediaNotFound, contentType, contentID)
	}

	node := &BrowseMedia{
		Title:              title,
		MediaClass:         MediaClassDirectory,
		MediaContentType:   contentType,
		MediaContentID:     contentID,
		CanPlay:            isPlayable(contentType) && contentID != "",
		CanExpand:          true,
		ChildrenMediaClass: childClass,
		Children:           make([]*BrowseMedia, 0, len(items)),
	}
	for _, item := range items {
		node.Children = append(node.Children, itemPayload(item, thumbnail))
	}

	return node, nil
}

// itemPayload builds a single node. Only app leaves get thumbnails.
func itemPayload(item browseItem, thumbnail ThumbnailResolver) *BrowseMedia {
	node := &BrowseMedia{
		Title:            item.title,
		MediaClass:       contentTypeMediaClass[item.contentType],
		MediaContentType: item.contentType,
		MediaContentID:   item.contentID,
		CanPlay:          isPlayable(item.contentType) && item.contentID != "",
		CanExpand:        isExpandable(item.contentType),
	}
	if item.contentType == MediaTypeApp && thumbnail != nil {
		node.Thumbnail = thumbnail(item.contentType, item.contentID)
	}
	return node
}
