package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"flockwatch/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=("[^"]*"|[^\s]+)`)
)

// Parser decodes one line of a remote frame feed. It accepts JSON objects,
// CSV with a header row, and key=value text.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields for blank lines and CSV header rows.
func (p *Parser) ParseLine(line string) (*normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		fields, err := parseJSON(trim)
		if err != nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err != nil || fields == nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parseJSON(line string) (*normalize.EventFields, error) {
	return ParseJSONBytes([]byte(line))
}

// parsePlain reads "2024-05-01T10:00:00Z type=ble address=.. name=\"FS Ext Battery\"".
func parsePlain(line string) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		fields.Extras[strings.ToLower(match[1])] = strings.Trim(match[2], `"`)
	}
	fillFields(fields, fields.Extras)
	if fields.Timestamp == "" {
		fields.Timestamp = extractTimestamp(line)
	}
	return fields
}

func extractTimestamp(line string) string {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		return strings.TrimSpace(line[m[2]:m[3]])
	}
	return ""
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// CSVParser remembers the first header row it sees. Without a header the
// column order is type,frame_or_address,rssi,channel,name.
type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.EventFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	kv := map[string]string{}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			kv[name] = strings.TrimSpace(record[i])
		}
	} else {
		positional := []string{"type", "target", "rssi", "channel", "name"}
		for i, name := range positional {
			if i < len(record) {
				kv[name] = strings.TrimSpace(record[i])
			}
		}
		if strings.EqualFold(kv["type"], "wifi") {
			kv["frame"] = kv["target"]
		} else {
			kv["address"] = kv["target"]
		}
	}
	fields := &normalize.EventFields{Extras: kv}
	fillFields(fields, kv)
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "type", "timestamp", "frame", "address", "mac", "rssi", "channel", "name", "service_uuids":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
