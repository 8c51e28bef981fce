package scroll

import (
	"encoding/json"
)

// MatchAll selects every document.
func MatchAll() json.RawMessage {
	return json.RawMessage(`{"match_all":{}}`)
}

// QueryString filters documents with a Lucene query string, unscored.
func QueryString(q string) json.RawMessage {
	type queryString struct {
		Query string `json:"query"`
	}
	type inner struct {
		QueryString queryString `json:"query_string"`
	}
	type filter struct {
		Query inner `json:"query"`
	}
	type constantScore struct {
		Filter filter `json:"filter"`
	}
	body := struct {
		ConstantScore constantScore `json:"constant_score"`
	}{constantScore{filter{inner{queryString{q}}}}}

	data, err := json.Marshal(body)
	if err != nil {
		// Only string fields; Marshal cannot fail.
		panic(err)
	}
	return data
}
