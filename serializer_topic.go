package mauzr

import (
	"encoding/json"
	"fmt"
)

const formatTopics = "topics"

// topicInfo is the wire form of a handle reference.
type topicInfo struct {
	Topic  string `json:"topic"`
	QoS    byte   `json:"qos"`
	Retain bool   `json:"retain"`
	Format string `json:"fmt"`
}

func newTopicInfo(h *Handle) topicInfo {
	return topicInfo{
		Topic:  h.Topic(),
		QoS:    h.QoS(),
		Retain: h.Retain(),
		Format: h.Serializer().Format(),
	}
}

// TopicSerializer publishes references to other topics. A packed *Handle
// becomes a JSON object naming its topic, QoS, retain flag and format;
// unpacking returns the handle for that topic from the connector.
type TopicSerializer struct {
	conn *Connector
	desc string
}

// NewTopicSerializer creates a TopicSerializer resolving handles on conn.
func NewTopicSerializer(conn *Connector, desc string) *TopicSerializer {
	return &TopicSerializer{conn: conn, desc: desc}
}

// Pack accepts a *Handle or nil.
func (s *TopicSerializer) Pack(v any) ([]byte, error) {
	switch h := v.(type) {
	case nil:
		return []byte{}, nil
	case *Handle:
		if h == nil {
			return []byte{}, nil
		}
		data, err := json.Marshal(newTopicInfo(h))
		if err != nil {
			return nil, NewSerializationError(formatTopic, err)
		}
		return data, nil
	default:
		return nil, NewSerializationError(formatTopic, fmt.Errorf("not a handle: %T", v))
	}
}

// Unpack returns the *Handle described by data.
func (s *TopicSerializer) Unpack(data []byte) (any, error) {
	var info topicInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, NewSerializationError(formatTopic, err)
	}

	h, err := resolveTopicInfo(s.conn, info, s.desc)
	if err != nil {
		return nil, NewSerializationError(formatTopic, err)
	}
	return h, nil
}

// Format returns "topic".
func (s *TopicSerializer) Format() string { return formatTopic }

// Description returns the description.
func (s *TopicSerializer) Description() string { return s.desc }

// TopicsSerializer is the list form of TopicSerializer.
type TopicsSerializer struct {
	conn *Connector
	desc string
}

// NewTopicsSerializer creates a TopicsSerializer resolving handles on conn.
func NewTopicsSerializer(conn *Connector, desc string) *TopicsSerializer {
	return &TopicsSerializer{conn: conn, desc: desc}
}

// Pack accepts a []*Handle or nil.
func (s *TopicsSerializer) Pack(v any) ([]byte, error) {
	switch handles := v.(type) {
	case nil:
		return []byte{}, nil
	case []*Handle:
		infos := make([]topicInfo, 0, len(handles))
		for _, h := range handles {
			infos = append(infos, newTopicInfo(h))
		}
		data, err := json.Marshal(infos)
		if err != nil {
			return nil, NewSerializationError(formatTopics, err)
		}
		return data, nil
	default:
		return nil, NewSerializationError(formatTopics, fmt.Errorf("not a handle list: %T", v))
	}
}

// Unpack returns the []*Handle described by data.
func (s *TopicsSerializer) Unpack(data []byte) (any, error) {
	var infos []topicInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		return nil, NewSerializationError(formatTopics, err)
	}

	handles := make([]*Handle, 0, len(infos))
	for _, info := range infos {
		h, err := resolveTopicInfo(s.conn, info, s.desc)
		if err != nil {
			return nil, NewSerializationError(formatTopics, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Format returns "topics".
func (s *TopicsSerializer) Format() string { return formatTopics }

// Description returns the description.
func (s *TopicsSerializer) Description() string { return s.desc }

func resolveTopicInfo(conn *Connector, info topicInfo, desc string) (*Handle, error) {
	var ser Serializer
	switch info.Format {
	case formatTopic:
		ser = NewTopicSerializer(conn, desc)
	case formatTopics:
		ser = NewTopicsSerializer(conn, desc)
	default:
		var err error
		if ser, err = SerializerFromFormat(info.Format, desc); err != nil {
			return nil, err
		}
	}
	return conn.Handle(info.Topic, ser, info.QoS, info.Retain)
}
