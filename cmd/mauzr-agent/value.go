package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eqrx/mauzr"
)

// parseValue turns a command line argument into the value a serializer of
// the given format packs. Text formats take the argument as is, "bytes"
// accepts a hex: prefix, structured formats read it as a YAML (and thus
// JSON) literal so "21.5", "true" and "[1, 2.5]" keep their types.
func parseValue(format, arg string) (any, error) {
	switch {
	case format == "str":
		return arg, nil
	case format == "bytes":
		if rest, ok := strings.CutPrefix(arg, "hex:"); ok {
			b, err := hex.DecodeString(rest)
			if err != nil {
				return nil, fmt.Errorf("decoding hex value: %w", err)
			}
			return b, nil
		}
		return []byte(arg), nil
	default:
		var v any
		if err := yaml.Unmarshal([]byte(arg), &v); err != nil {
			return nil, fmt.Errorf("parsing value: %w", err)
		}
		return v, nil
	}
}

// formatValue renders a delivered value for the terminal.
func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return value
	case []byte:
		return "hex:" + hex.EncodeToString(value)
	case *mauzr.Handle:
		if value == nil {
			return "<nil>"
		}
		return "-> " + value.Topic()
	case []*mauzr.Handle:
		topics := make([]string, len(value))
		for i, h := range value {
			topics[i] = h.Topic()
		}
		return "-> [" + strings.Join(topics, ", ") + "]"
	default:
		return fmt.Sprint(value)
	}
}

// serializerFor builds the serializer named by format. The topic formats
// need the connector to resolve the handles they reference.
func serializerFor(conn *mauzr.Connector, format, desc string) (mauzr.Serializer, error) {
	switch format {
	case "topic":
		return mauzr.NewTopicSerializer(conn, desc), nil
	case "topics":
		return mauzr.NewTopicsSerializer(conn, desc), nil
	default:
		return mauzr.SerializerFromFormat(format, desc)
	}
}
