package mqtt

import (
	"fmt"
	"sort"
	"strings"
)

// validateFilter checks an MQTT topic filter: "#" only as the whole last
// level, "+" only as a whole level.
func validateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: %q: # must be the last level", ErrInvalidTopic, filter)
		case level != "#" && level != "+" && strings.ContainsAny(level, "#+"):
			return fmt.Errorf("%w: %q: wildcard must fill a whole level", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// Subscribe registers handler for messages matching filter, which may use
// the "+" and "#" wildcards. The bridge subscribes to its command and
// request filters once at start; both are restored after every reconnect.
// Subscribing again to the same filter replaces its handler.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub := subscription{topic: filter, qos: qos, handler: handler}
	if err := c.subscribe(sub); err != nil {
		return err
	}

	c.subMu.Lock()
	c.subscriptions[filter] = sub
	c.subMu.Unlock()
	return nil
}

func (c *Client) subscribe(sub subscription) error {
	token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, sub.topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, sub.topic, err)
	}
	return nil
}

// Subscriptions returns the active filters, sorted.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	filters := make([]string, 0, len(c.subscriptions))
	for filter := range c.subscriptions {
		filters = append(filters, filter)
	}
	c.subMu.RUnlock()

	sort.Strings(filters)
	return filters
}

// restoreSubscriptions resubscribes every filter after a reconnect. The
// session is clean, so the broker has forgotten them. Runs off paho's
// callback goroutine because it waits on tokens.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		if err := c.subscribe(sub); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("failed to restore MQTT subscription", "topic", sub.topic, "error", err)
			}
		}
	}
}
