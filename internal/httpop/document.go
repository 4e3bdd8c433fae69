package httpop

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeDocument parses a JSON object body; anything else yields nil
func decodeDocument(body []byte) map[string]interface{} {
	if len(body) == 0 {
		return nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}
	return doc
}

// lookupString returns the first non-empty scalar found at any of the dotted paths
func lookupString(doc map[string]interface{}, paths []string) string {
	if doc == nil {
		return ""
	}
	for _, path := range paths {
		v, ok := lookup(doc, strings.Split(path, "."))
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64, bool:
			return fmt.Sprint(t)
		}
	}
	return ""
}

func lookup(doc map[string]interface{}, keys []string) (interface{}, bool) {
	var cur interface{} = doc
	for _, k := range keys {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
