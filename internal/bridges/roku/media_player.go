package roku

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"
)

// PlayerState is the media player's playback state.
type PlayerState string

// Player states. StateUnknown is reported when the snapshot does not say.
const (
	StateUnknown PlayerState = ""
	StateStandby PlayerState = "standby"
	StateIdle    PlayerState = "idle"
	StateHome    PlayerState = "home"
	StatePaused  PlayerState = "paused"
	StatePlaying PlayerState = "playing"
	StateOn      PlayerState = "on"
)

// Device classes.
const (
	DeviceClassTV       = "tv"
	DeviceClassReceiver = "receiver"
)

// Media content types accepted by PlayMedia and used in browse trees.
const (
	MediaTypeApp      = "app"
	MediaTypeApps     = "apps"
	MediaTypeChannel  = "channel"
	MediaTypeChannels = "channels"
	MediaTypeLibrary  = "library"

	// MediaTypeHLS plays a stream through the side-loaded developer app.
	MediaTypeHLS = "application/x-mpegURL"
)

const (
	// appNamePowerSaver is the screensaver app Roku runs when idle.
	appNamePowerSaver = "Power Saver"

	// appNameHome is the home-screen launcher.
	appNameHome = "Roku"

	// appIDTuner is the TV tuner input.
	appIDTuner = "tvinput.dtv"

	// appIDDev is the side-loaded developer app.
	appIDDev = "dev"

	// SourceHome is the fixed first entry of the source list.
	SourceHome = "Home"

	// deepLinkParam is the launch parameter carrying a deep-link content ID.
	deepLinkParam = "contentId"
)

// SupportedFeatures lists the media player commands, announced in discovery.
var SupportedFeatures = []string{
	"turn_on", "turn_off",
	"pause", "play", "play_pause",
	"previous_track", "next_track",
	"volume_mute", "volume_step",
	"play_media", "select_source",
	"browse_media", "search",
}

// MediaPlayerState is the derived media player state for one snapshot.
// Optional fields are omitted rather than zero when the snapshot does not
// support them.
type MediaPlayerState struct {
	State                  PlayerState `json:"state"`
	Available              bool        `json:"available"`
	DeviceClass            string      `json:"device_class"`
	AppID                  string      `json:"app_id,omitempty"`
	AppName                string      `json:"app_name,omitempty"`
	Source                 string      `json:"source,omitempty"`
	SourceList             []string    `json:"source_list"`
	MediaContentType       string      `json:"media_content_type,omitempty"`
	MediaChannel           string      `json:"media_channel,omitempty"`
	MediaTitle             string      `json:"media_title,omitempty"`
	MediaImageURL          string      `json:"media_image_url,omitempty"`
	MediaDuration          *int        `json:"media_duration,omitempty"`
	MediaPosition          *int        `json:"media_position,omitempty"`
	MediaPositionUpdatedAt *time.Time  `json:"media_position_updated_at,omitempty"`
}

// ImageFetcher downloads browse images. Satisfied by imagecache.Fetcher.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// MediaPlayer is the media player entity of one Roku device.
type MediaPlayer struct {
	entity
	images ImageFetcher
}

func newMediaPlayer(opts entityOptions, images ImageFetcher) *MediaPlayer {
	return &MediaPlayer{entity: newEntity(opts), images: images}
}

// Status derives the full media player state from one snapshot load.
func (p *MediaPlayer) Status() MediaPlayerState {
	d := p.source.Data()

	s := MediaPlayerState{
		State:            playerState(d),
		Available:        p.Available(),
		DeviceClass:      deviceClass(d),
		AppID:            appID(d),
		AppName:          appName(d),
		Source:           appName(d),
		SourceList:       sourceList(d),
		MediaContentType: mediaContentType(d),
		MediaChannel:     mediaChannel(d),
		MediaTitle:       mediaTitle(d),
		MediaImageURL:    mediaImageURL(d, p.client),
	}
	if trackable(d) {
		duration, position, at := d.Media.Duration, d.Media.Position, d.Media.At
		s.MediaDuration = &duration
		s.MediaPosition = &position
		s.MediaPositionUpdatedAt = &at
	}
	return s
}

// State returns the playback state.
func (p *MediaPlayer) State() PlayerState {
	return playerState(p.source.Data())
}

// DeviceClass returns DeviceClassTV for Roku TVs and DeviceClassReceiver otherwise.
func (p *MediaPlayer) DeviceClass() string {
	return deviceClass(p.source.Data())
}

// MediaDuration returns the media length in seconds when playback is trackable.
func (p *MediaPlayer) MediaDuration() (int, bool) {
	d := p.source.Data()
	if !trackable(d) {
		return 0, false
	}
	return d.Media.Duration, true
}

// MediaPosition returns the playback position in seconds when trackable.
func (p *MediaPlayer) MediaPosition() (int, bool) {
	d := p.source.Data()
	if !trackable(d) {
		return 0, false
	}
	return d.Media.Position, true
}

// MediaPositionUpdatedAt returns when the position was sampled, when trackable.
func (p *MediaPlayer) MediaPositionUpdatedAt() (time.Time, bool) {
	d := p.source.Data()
	if !trackable(d) {
		return time.Time{}, false
	}
	return d.Media.At, true
}

// MediaContentType returns MediaTypeChannel, MediaTypeApp or "" when absent.
func (p *MediaPlayer) MediaContentType() string {
	return mediaContentType(p.source.Data())
}

// MediaChannel returns the tuned channel's display name or "".
func (p *MediaPlayer) MediaChannel() string {
	return mediaChannel(p.source.Data())
}

// MediaTitle returns the tuned channel's program title or "".
func (p *MediaPlayer) MediaTitle() string {
	return mediaTitle(p.source.Data())
}

// MediaImageURL returns the foreground app's icon URL or "".
func (p *MediaPlayer) MediaImageURL() string {
	return mediaImageURL(p.source.Data(), p.client)
}

// AppID returns the foreground app ID or "".
func (p *MediaPlayer) AppID() string {
	return appID(p.source.Data())
}

// AppName returns the foreground app name or "".
func (p *MediaPlayer) AppName() string {
	return appName(p.source.Data())
}

// Source returns the current input source, which is the foreground app name.
func (p *MediaPlayer) Source() string {
	return appName(p.source.Data())
}

// SourceList returns "Home" followed by the installed app names in order.
func (p *MediaPlayer) SourceList() []string {
	return sourceList(p.source.Data())
}

// playerState applies the state precedence; the first match wins.
func playerState(d *Device) PlayerState {
	if d == nil {
		return StateUnknown
	}
	if d.State.Standby {
		return StateStandby
	}
	if d.App == nil {
		return StateUnknown
	}
	if d.App.Name == appNamePowerSaver || d.App.Screensaver {
		return StateIdle
	}
	if d.App.Name == appNameHome {
		return StateHome
	}
	if d.Media != nil {
		if d.Media.Paused {
			return StatePaused
		}
		return StatePlaying
	}
	if d.App.Name != "" {
		return StateOn
	}
	return StateUnknown
}

func deviceClass(d *Device) string {
	if d != nil && d.Info.DeviceType == DeviceTypeTV {
		return DeviceClassTV
	}
	return DeviceClassReceiver
}

// trackable reports whether media duration and position are meaningful.
func trackable(d *Device) bool {
	if d == nil || d.Media == nil || d.Media.Live {
		return false
	}
	return d.Media.Duration > 0
}

func appID(d *Device) string {
	if d == nil || d.App == nil {
		return ""
	}
	return d.App.AppID
}

func appName(d *Device) string {
	if d == nil || d.App == nil {
		return ""
	}
	return d.App.Name
}

// showsMedia reports whether the foreground app is one that presents media,
// rather than the screensaver or home screen.
func showsMedia(d *Device) bool {
	if d == nil || d.App == nil {
		return false
	}
	return d.App.Name != appNamePowerSaver && d.App.Name != appNameHome
}

func tunerChannel(d *Device) *Channel {
	if appID(d) != appIDTuner {
		return nil
	}
	return d.Channel
}

func mediaContentType(d *Device) string {
	if !showsMedia(d) {
		return ""
	}
	if tunerChannel(d) != nil {
		return MediaTypeChannel
	}
	return MediaTypeApp
}

func mediaChannel(d *Device) string {
	ch := tunerChannel(d)
	if ch == nil {
		return ""
	}
	if ch.Name != "" {
		return ch.Name + " (" + ch.Number + ")"
	}
	return ch.Number
}

func mediaTitle(d *Device) string {
	ch := tunerChannel(d)
	if ch == nil {
		return ""
	}
	return ch.ProgramTitle
}

func mediaImageURL(d *Device, client Client) string {
	if !showsMedia(d) || client == nil {
		return ""
	}
	return client.AppIconURL(d.App.AppID)
}

func sourceList(d *Device) []string {
	sources := []string{SourceHome}
	if d == nil {
		return sources
	}

	names := make([]string, 0, len(d.Apps))
	for _, app := range d.Apps {
		names = append(names, app.Name)
	}
	sort.Strings(names)

	return append(sources, names...)
}

// findApp returns the installed app whose name or ID equals source.
func findApp(d *Device, source string) *Application {
	if d == nil {
		return nil
	}
	for i := range d.Apps {
		if d.Apps[i].Name == source || d.Apps[i].AppID == source {
			return &d.Apps[i]
		}
	}
	return nil
}

// TurnOn powers the device on.
func (p *MediaPlayer) TurnOn(ctx context.Context) {
	p.run("turn_on", p.remoteAndRefresh(ctx, KeyPowerOn))
}

// TurnOff puts the device in standby.
func (p *MediaPlayer) TurnOff(ctx context.Context) {
	p.run("turn_off", p.remoteAndRefresh(ctx, KeyPowerOff))
}

// MediaPause toggles playback unless the device is in standby or already paused.
func (p *MediaPlayer) MediaPause(ctx context.Context) {
	if state := p.State(); state == StateStandby || state == StatePaused {
		return
	}
	p.run("media_pause", p.remoteAndRefresh(ctx, KeyPlay))
}

// MediaPlay toggles playback unless the device is in standby or already playing.
func (p *MediaPlayer) MediaPlay(ctx context.Context) {
	if state := p.State(); state == StateStandby || state == StatePlaying {
		return
	}
	p.run("media_play", p.remoteAndRefresh(ctx, KeyPlay))
}

// MediaPlayPause toggles playback unless the device is in standby.
func (p *MediaPlayer) MediaPlayPause(ctx context.Context) {
	if p.State() == StateStandby {
		return
	}
	p.run("media_play_pause", p.remoteAndRefresh(ctx, KeyPlay))
}

// MediaPreviousTrack sends the reverse key.
func (p *MediaPlayer) MediaPreviousTrack(ctx context.Context) {
	p.run("media_previous_track", p.remoteAndRefresh(ctx, KeyReverse))
}

// MediaNextTrack sends the forward key.
func (p *MediaPlayer) MediaNextTrack(ctx context.Context) {
	p.run("media_next_track", p.remoteAndRefresh(ctx, KeyForward))
}

// MuteVolume sends the mute toggle key. Roku has no discrete mute, so the
// requested value is not consulted.
func (p *MediaPlayer) MuteVolume(ctx context.Context, _ bool) {
	p.run("mute_volume", p.remoteAndRefresh(ctx, KeyVolumeMute))
}

// VolumeUp sends the volume up key. Volume is not part of the snapshot, so
// no refresh follows.
func (p *MediaPlayer) VolumeUp(ctx context.Context) {
	p.run("volume_up", func() error {
		return p.client.Remote(ctx, KeyVolumeUp)
	})
}

// VolumeDown sends the volume down key without a refresh.
func (p *MediaPlayer) VolumeDown(ctx context.Context) {
	p.run("volume_down", func() error {
		return p.client.Remote(ctx, KeyVolumeDown)
	})
}

// PlayMedia launches an app (optionally deep-linked), plays a stream through
// the developer app, or tunes a channel. Unsupported types are logged and
// ignored.
//
// For MediaTypeApp, mediaID is either an app ID or "appID, contentID".
func (p *MediaPlayer) PlayMedia(ctx context.Context, mediaType, mediaID string) {
	switch mediaType {
	case MediaTypeApp, MediaTypeChannel, MediaTypeHLS:
	default:
		p.logError("invalid media type, only app, channel and HLS streams are supported",
			"media_type", mediaType)
		return
	}

	p.run("play_media", func() error {
		if err := p.playMedia(ctx, mediaType, mediaID); err != nil {
			return err
		}
		p.requestRefresh(ctx)
		return nil
	})
}

func (p *MediaPlayer) playMedia(ctx context.Context, mediaType, mediaID string) error {
	switch mediaType {
	case MediaTypeApp:
		if app, content, ok := splitDeepLink(mediaID); ok {
			p.logInfo("launching app with deep link", "app_id", app, "content_id", content)
			return p.client.Launch(ctx, app, map[string]string{deepLinkParam: escapeContentID(content)})
		}
		p.logInfo("launching app", "app_id", mediaID)
		return p.client.Launch(ctx, mediaID, nil)

	case MediaTypeHLS:
		p.logInfo("launching side-loaded app with deep link", "content_id", mediaID)
		return p.client.Launch(ctx, appIDDev, map[string]string{deepLinkParam: escapeContentID(mediaID)})

	default:
		p.logInfo("tuning channel", "channel", mediaID)
		return p.client.Tune(ctx, mediaID)
	}
}

// splitDeepLink splits "appID, contentID" into its trimmed parts.
func splitDeepLink(mediaID string) (string, string, bool) {
	parts := strings.Split(mediaID, ",")
	if len(parts) < 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

// escapeContentID percent-encodes every byte outside A-Z a-z 0-9 - _ . ~.
func escapeContentID(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// SelectSource goes to the home screen for "Home", otherwise launches the
// installed app whose name or ID equals source. A refresh always follows.
func (p *MediaPlayer) SelectSource(ctx context.Context, source string) {
	p.run("select_source", func() error {
		if source == SourceHome {
			if err := p.client.Remote(ctx, KeyHome); err != nil {
				return err
			}
		} else if app := findApp(p.source.Data(), source); app != nil {
			if err := p.client.Launch(ctx, app.AppID, nil); err != nil {
				return err
			}
		}
		p.requestRefresh(ctx)
		return nil
	})
}

// Search opens the search screen with keyword entered.
func (p *MediaPlayer) Search(ctx context.Context, keyword string) {
	p.run("search", func() error {
		return p.client.Search(ctx, keyword)
	})
}

// BrowseMedia returns the browse tree node for contentType and contentID.
// An empty contentType or MediaTypeLibrary returns the root. thumbnail may
// be nil, in which case app thumbnails are direct device icon URLs.
func (p *MediaPlayer) BrowseMedia(contentType, contentID string, thumbnail ThumbnailResolver) (*BrowseMedia, error) {
	if thumbnail == nil {
		thumbnail = p.iconThumbnail
	}

	d := p.source.Data()
	if contentType == "" || contentType == MediaTypeLibrary {
		return libraryPayload(d, thumbnail), nil
	}
	return buildItemResponse(d, contentType, contentID, thumbnail)
}

// iconThumbnail resolves app thumbnails to the device's icon URL.
func (p *MediaPlayer) iconThumbnail(contentType, contentID string) string {
	if contentType == MediaTypeApp && contentID != "" {
		return p.client.AppIconURL(contentID)
	}
	return ""
}

// BrowseImage fetches the image for a browse item. Only apps have images;
// for anything else it returns nil data and no error.
// The image ID is accepted for callers that carry one and is unused.
func (p *MediaPlayer) BrowseImage(ctx context.Context, contentType, contentID, _ string) ([]byte, string, error) {
	if contentType != MediaTypeApp || contentID == "" || p.images == nil {
		return nil, "", nil
	}
	return p.images.Fetch(ctx, p.client.AppIconURL(contentID))
}
