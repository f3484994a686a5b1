package model

import "encoding/json"

// PagePayload is one page of the paginated listing endpoint.
type PagePayload struct {
	Next    *string    `json:"next"`
	Results []PageItem `json:"results"`
}

// PageItem is a listing entry pointing at a detail resource. Only URL is
// required; uid arrives as a string or a number depending on the upstream.
type PageItem struct {
	UID  json.RawMessage `json:"uid"`
	Name string          `json:"name"`
	URL  string          `json:"url"`
}

// EntityPayload is the decoded detail response for one entity.
type EntityPayload struct {
	Result *EntityResult `json:"result"`
}

// EntityResult is the "result" envelope of a detail response.
type EntityResult struct {
	UID        json.RawMessage        `json:"uid"`
	Properties map[string]interface{} `json:"properties"`
}
