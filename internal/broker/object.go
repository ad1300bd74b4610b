package broker

import "time"

// Object is a named JSON value with a last-modified timestamp. Names
// beginning with "$" are reserved; "$system" always exists for the life of
// the broker.
type Object struct {
	Name         string      `json:"name"`
	Value        interface{} `json:"value"`
	LastModified time.Time   `json:"lastModified"`
}

func validateObjectName(name string) error {
	if name == "" || name[0] == '$' {
		return ErrInvalidObjectName
	}
	return nil
}

// mergeInto shallow-merges the top-level keys of patch into value, which
// must itself be a JSON object (decoded as map[string]interface{}). Nested
// objects are replaced wholesale, not deep-merged — that's the documented
// behaviour of patch, not an oversight.
func mergeInto(value interface{}, patch map[string]interface{}) (interface{}, error) {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, ErrCantMergeObjects
	}
	for k, v := range patch {
		obj[k] = v
	}
	return obj, nil
}
