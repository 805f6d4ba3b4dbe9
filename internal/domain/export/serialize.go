package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// Serialize renders the canonical document in the requested format.
func Serialize(doc map[string]any, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatXML:
		return toXML(doc)
	case FormatCSV:
		return toCSV(doc)
	default:
		return nil, ErrInvalidFormat
	}
}

func toXML(doc map[string]any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	if err := writeXMLElement(&b, "export", doc, 0); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// writeXMLElement maps nested structures to named elements; sequences become
// repeated sibling elements carrying the same name.
func writeXMLElement(b *bytes.Buffer, name string, value any, depth int) error {
	indent := strings.Repeat("  ", depth)
	switch v := value.(type) {
	case map[string]any:
		b.WriteString(indent + "<" + name + ">\n")
		for _, key := range sortedKeys(v) {
			if err := writeXMLElement(b, key, v[key], depth+1); err != nil {
				return err
			}
		}
		b.WriteString(indent + "</" + name + ">\n")
	case []map[string]any:
		if len(v) == 0 {
			b.WriteString(indent + "<" + name + "/>\n")
			return nil
		}
		for _, item := range v {
			if err := writeXMLElement(b, name, item, depth); err != nil {
				return err
			}
		}
	case []any:
		if len(v) == 0 {
			b.WriteString(indent + "<" + name + "/>\n")
			return nil
		}
		for _, item := range v {
			if err := writeXMLElement(b, name, item, depth); err != nil {
				return err
			}
		}
	case []string:
		for _, item := range v {
			if err := writeXMLElement(b, name, item, depth); err != nil {
				return err
			}
		}
	case nil:
		b.WriteString(indent + "<" + name + "/>\n")
	default:
		b.WriteString(indent + "<" + name + ">")
		if err := xml.EscapeText(b, []byte(fmt.Sprint(v))); err != nil {
			return err
		}
		b.WriteString("</" + name + ">\n")
	}
	return nil
}

// toCSV flattens the nested document: nested objects become dot-joined column
// names, sequences of scalars collapse into one semicolon-joined cell, and
// sequences of objects recurse into additional rows. The transform is lossy
// for deeply irregular structures: extra rows keep their own columns but lose
// positional context relative to the root row.
func toCSV(doc map[string]any) ([]byte, error) {
	root := map[string]string{}
	var extra []map[string]string
	flattenValue("", doc, root, &extra)
	rows := append([]map[string]string{root}, extra...)

	columnSet := map[string]struct{}{}
	for _, row := range rows {
		for column := range row {
			columnSet[column] = struct{}{}
		}
	}
	columns := make([]string, 0, len(columnSet))
	for column := range columnSet {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	var b bytes.Buffer
	w := csv.NewWriter(&b)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, column := range columns {
			record[i] = row[column]
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return b.Bytes(), w.Error()
}

func flattenValue(prefix string, value any, current map[string]string, extra *[]map[string]string) {
	switch v := value.(type) {
	case map[string]any:
		for _, key := range sortedKeys(v) {
			flattenValue(joinKey(prefix, key), v[key], current, extra)
		}
	case []map[string]any:
		for _, item := range v {
			row := map[string]string{}
			flattenValue(prefix, item, row, extra)
			*extra = append(*extra, row)
		}
	case []string:
		current[prefix] = strings.Join(v, ";")
	case []any:
		if scalars, ok := scalarStrings(v); ok {
			current[prefix] = strings.Join(scalars, ";")
			return
		}
		for _, item := range v {
			row := map[string]string{}
			flattenValue(prefix, item, row, extra)
			*extra = append(*extra, row)
		}
	case nil:
		current[prefix] = ""
	default:
		current[prefix] = fmt.Sprint(v)
	}
}

func scalarStrings(items []any) ([]string, bool) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch item.(type) {
		case map[string]any, []any, []map[string]any:
			return nil, false
		case nil:
			out = append(out, "")
		default:
			out = append(out, fmt.Sprint(item))
		}
	}
	return out, true
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
