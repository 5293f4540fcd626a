// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// unmarshalEither decodes data into out when data is a JSON array, or decodes
// the first present key of a JSON object into out.
func unmarshalEither(data []byte, out any, keys ...string) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, out)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for _, k := range keys {
		if raw, ok := obj[k]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return json.Unmarshal(raw, out)
		}
	}
	return fmt.Errorf("expected array or object with one of %v", keys)
}
