package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"swapi-archive/internal/model"
)

var (
	// ErrIncompletePayload means the result envelope or its properties are missing.
	ErrIncompletePayload = errors.New("payload has no result properties")

	// ErrInvalidUID means result.uid is present but not a non-negative integer.
	ErrInvalidUID = errors.New("payload uid is not a non-negative integer")
)

// Assemble maps a detail payload onto a Draft using model.CharacterFields.
// Reference fields are left raw for the resolver. Absent scalars and references
// become "", absent reference lists become an empty list.
func Assemble(payload *model.EntityPayload) (*model.Draft, error) {
	if payload == nil || payload.Result == nil || payload.Result.Properties == nil {
		return nil, ErrIncompletePayload
	}

	id, err := parseUID(payload.Result.UID)
	if err != nil {
		return nil, err
	}

	draft := &model.Draft{
		Character: model.Character{ID: id},
		Refs:      make(map[string]interface{}),
	}

	props := payload.Result.Properties
	for _, f := range model.CharacterFields {
		value := props[f.Name]
		switch f.Kind {
		case model.ScalarField:
			f.Set(&draft.Character, scalarText(value))
		case model.ReferenceField:
			ref, _ := value.(string)
			draft.Refs[f.Name] = ref
		case model.ReferenceListField:
			if value == nil {
				value = []interface{}{}
			}
			draft.Refs[f.Name] = value
		}
	}

	return draft, nil
}

func parseUID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidUID, raw)
		}
	}

	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidUID, raw)
	}
	return id, nil
}

func scalarText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
