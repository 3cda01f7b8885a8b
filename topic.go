package mauzr

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	topicSeparator      = "/"
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// ValidateTopicName validates a topic that is published to.
// Topic names cannot contain wildcards and must be valid UTF-8.
func ValidateTopicName(topic string) error {
	if err := validateTopicText(topic); err != nil {
		return err
	}
	if containsWildcard(topic) {
		return fmt.Errorf("%w: wildcard in topic name %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateTopicFilter validates a topic that is subscribed to. Wildcards must
// occupy a whole level and '#' may only be the last level.
func ValidateTopicFilter(filter string) error {
	if err := validateTopicText(filter); err != nil {
		return err
	}

	levels := splitTopic(filter)
	for i, level := range levels {
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return fmt.Errorf("%w: '+' must fill a level in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, multiLevelWildcard) && (level != multiLevelWildcard || i != len(levels)-1) {
			return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

func validateTopicText(topic string) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	case len(topic) > maxUint16:
		return fmt.Errorf("%w: too long", ErrInvalidTopic)
	case !utf8.ValidString(topic):
		return fmt.Errorf("%w: not UTF-8", ErrInvalidTopic)
	case strings.ContainsRune(topic, 0):
		return fmt.Errorf("%w: contains null character", ErrInvalidTopic)
	}
	return nil
}

// splitTopic splits a topic into its levels.
func splitTopic(topic string) []string {
	return strings.Split(topic, topicSeparator)
}

// containsWildcard returns true if the topic contains '+' or '#'.
func containsWildcard(topic string) bool {
	return strings.ContainsAny(topic, singleLevelWildcard+multiLevelWildcard)
}

// topicContains reports whether a handle with the given levels is
// responsible for an incoming topic. Incoming topics may be patterns
// themselves, so the rule is not symmetric: a shorter incoming topic matches
// only if it ends in '#', a longer one only if the handle ends in '#'. Equal
// lengths match level by level, where a wildcard on either side matches
// anything.
func topicContains(handle, incoming []string) bool {
	switch {
	case len(handle) == 0 || len(incoming) == 0:
		return false
	case len(incoming) < len(handle):
		return incoming[len(incoming)-1] == multiLevelWildcard
	case len(incoming) > len(handle):
		return handle[len(handle)-1] == multiLevelWildcard
	}

	for i, level := range incoming {
		other := handle[i]
		if level == other || isWildcardLevel(level) || isWildcardLevel(other) {
			continue
		}
		return false
	}
	return true
}

func isWildcardLevel(level string) bool {
	return level == singleLevelWildcard || level == multiLevelWildcard
}

// metaTopic returns the topic below prefix describing the topic made of
// levels. '+' is replaced by '*' so the result is a valid topic name.
func metaTopic(prefix string, levels []string) string {
	parts := make([]string, 0, len(levels)+1)
	parts = append(parts, prefix)
	for _, level := range levels {
		if level == singleLevelWildcard {
			level = "*"
		}
		parts = append(parts, level)
	}
	return strings.Join(parts, topicSeparator)
}
