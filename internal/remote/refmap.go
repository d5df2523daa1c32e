package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type NamedRef struct {
	Key string
	Ref string
}

// RefMap is a JSON object of key -> asset reference that keeps the order the
// service sent. Primary image selection depends on that order, which a Go
// map would lose.
type RefMap []NamedRef

func (m RefMap) Len() int {
	return len(m)
}

func (m RefMap) First() (NamedRef, bool) {
	if len(m) == 0 {
		return NamedRef{}, false
	}
	return m[0], true
}

func (m RefMap) Get(key string) (string, bool) {
	for _, r := range m {
		if r.Key == key {
			return r.Ref, true
		}
	}
	return "", false
}

func (m RefMap) Map() map[string]string {
	out := make(map[string]string, len(m))
	for _, r := range m {
		out[r.Key] = r.Ref
	}
	return out
}

func (m RefMap) Clone() RefMap {
	if m == nil {
		return nil
	}
	return append(RefMap(nil), m...)
}

func (m RefMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Ref)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *RefMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("ref map: expected object, got %v", tok)
	}

	out := RefMap{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("ref map: unexpected key %v", keyTok)
		}
		var ref string
		if err := dec.Decode(&ref); err != nil {
			return fmt.Errorf("ref map %q: %w", key, err)
		}
		out = append(out, NamedRef{Key: key, Ref: ref})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}
