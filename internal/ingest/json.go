package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"flockwatch/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap flattens a decoded object. Keys are matched case
// insensitively; service_uuids may be an array or a separated string.
func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	for key, val := range obj {
		key = strings.ToLower(key)
		switch v := val.(type) {
		case []interface{}:
			if key == "service_uuids" || key == "uuids" || key == "services" {
				for _, item := range v {
					fields.ServiceUUIDs = append(fields.ServiceUUIDs, fmt.Sprint(item))
				}
				continue
			}
			fields.Extras[key] = fmt.Sprint(v)
		case float64:
			fields.Extras[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
		default:
			fields.Extras[key] = fmt.Sprint(v)
		}
	}
	fillFields(fields, fields.Extras)
	return fields
}

func fillFields(fields *normalize.EventFields, kv map[string]string) {
	fields.Type = firstNonEmpty(kv, "type", "kind", "protocol")
	fields.Timestamp = firstNonEmpty(kv, "timestamp", "time", "ts")
	fields.Frame = firstNonEmpty(kv, "frame", "payload", "data")
	fields.Link = firstNonEmpty(kv, "link", "link_type", "encapsulation")
	fields.RSSI = firstNonEmpty(kv, "rssi", "signal", "dbm")
	fields.Channel = firstNonEmpty(kv, "channel", "chan")
	fields.Address = firstNonEmpty(kv, "address", "mac", "mac_address", "addr")
	fields.Name = firstNonEmpty(kv, "name", "device_name", "local_name")
	fields.AdvData = firstNonEmpty(kv, "adv_data", "advertising_data", "adv")
	if len(fields.ServiceUUIDs) == 0 {
		fields.ServiceUUIDs = splitList(firstNonEmpty(kv, "service_uuids", "uuids", "services"))
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' || r == ' ' })
}
