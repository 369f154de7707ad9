package roku

import (
	"context"
	"fmt"
	"math"
)

// Command is a command addressed to one entity of an entry.
type Command struct {
	// Name is the command name (e.g., "media_pause", "send_command").
	Name string `json:"command"`

	// Entity is EntityMediaPlayer (default) or EntityRemote.
	Entity string `json:"entity,omitempty"`

	Parameters map[string]any `json:"parameters,omitempty"`
}

// Execute dispatches cmd to the entry's entities. It returns an error only
// when the command cannot be dispatched (unknown command or bad
// parameters); device failures are handled by the entities.
func (e *Entry) Execute(ctx context.Context, cmd Command) error {
	switch cmd.Entity {
	case "", EntityMediaPlayer:
		return executeMediaPlayer(ctx, e.MediaPlayer, cmd)
	case EntityRemote:
		return executeRemote(ctx, e.Remote, cmd)
	default:
		return fmt.Errorf("%w: entity %q", ErrUnknownCommand, cmd.Entity)
	}
}

func executeMediaPlayer(ctx context.Context, p *MediaPlayer, cmd Command) error {
	switch cmd.Name {
	case "turn_on":
		p.TurnOn(ctx)
	case "turn_off":
		p.TurnOff(ctx)
	case "media_pause":
		p.MediaPause(ctx)
	case "media_play":
		p.MediaPlay(ctx)
	case "media_play_pause":
		p.MediaPlayPause(ctx)
	case "media_previous_track":
		p.MediaPreviousTrack(ctx)
	case "media_next_track":
		p.MediaNextTrack(ctx)
	case "volume_up":
		p.VolumeUp(ctx)
	case "volume_down":
		p.VolumeDown(ctx)

	case "mute_volume":
		mute, err := boolParam(cmd.Parameters, "is_volume_muted")
		if err != nil {
			return err
		}
		p.MuteVolume(ctx, mute)

	case "play_media":
		mediaType, err := stringParam(cmd.Parameters, "media_type")
		if err != nil {
			return err
		}
		mediaID, err := stringParam(cmd.Parameters, "media_id")
		if err != nil {
			return err
		}
		p.PlayMedia(ctx, mediaType, mediaID)

	case "select_source":
		source, err := stringParam(cmd.Parameters, "source")
		if err != nil {
			return err
		}
		p.SelectSource(ctx, source)

	case "search":
		keyword, err := stringParam(cmd.Parameters, "keyword")
		if err != nil {
			return err
		}
		p.Search(ctx, keyword)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
	return nil
}

func executeRemote(ctx context.Context, r *Remote, cmd Command) error {
	switch cmd.Name {
	case "turn_on":
		r.TurnOn(ctx)
	case "turn_off":
		r.TurnOff(ctx)

	case "send_command":
		keys, err := stringsParam(cmd.Parameters, "command")
		if err != nil {
			return err
		}
		repeats, err := optionalIntParam(cmd.Parameters, "num_repeats", 1)
		if err != nil {
			return err
		}
		r.SendCommand(ctx, keys, repeats)

	default:
		return fmt.Errorf("%w: remote %q", ErrUnknownCommand, cmd.Name)
	}
	return nil
}

// stringParam returns a required string parameter.
func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidParameters, key)
	}
	return s, nil
}

// boolParam returns a required boolean parameter.
func boolParam(params map[string]any, key string) (bool, error) {
	v, ok := params[key]
	if !ok {
		return false, fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidParameters, key)
	}
	return b, nil
}

// optionalIntParam returns an integer parameter or def when absent. JSON
// numbers arrive as float64 and must be whole.
func optionalIntParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %s must be a whole number", ErrInvalidParameters, key)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParameters, key)
	}
}

// stringsParam returns a required list of strings. A single string is
// accepted as a one-element list.
func stringsParam(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	switch list := v.(type) {
	case string:
		return []string{list}, nil
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must contain only strings", ErrInvalidParameters, key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidParameters, key)
	}
}
