package transport

import (
	"encoding/json"
	"io"
	"strings"
)

func decodeJSON(r io.Reader, out interface{}) error {
	return json.NewDecoder(r).Decode(out)
}

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}
