package mcpsession

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/imcphost/imcp/internal/registry"
)

// wireTool is the JSON shape of one entry in a tools/list response (spec §6).
type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
	Annotations wireAnnotation `json:"annotations"`
}

type wireAnnotation struct {
	ReadOnlyHint bool `json:"readOnlyHint"`
}

func toWireTool(t registry.Tool) wireTool {
	schema := t.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return wireTool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
		Annotations: wireAnnotation{ReadOnlyHint: t.ReadOnlyHint},
	}
}

// wireContent is one content block of a tools/call result (spec §6).
type wireContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// toWireContent encodes a registry.CallResult's payload into the content
// block list tools/call must return (spec §4.F step 5): binary blobs whose
// MIME type starts with audio/ or image/ are base64-wrapped; everything else
// is JSON-encoded as a text block with stable key ordering.
func toWireContent(result registry.CallResult) ([]wireContent, error) {
	payload := result.Value
	if result.Blob != nil {
		typ := "text"
		switch {
		case strings.HasPrefix(result.Blob.MIMEType, "audio/"):
			typ = "audio"
		case strings.HasPrefix(result.Blob.MIMEType, "image/"):
			typ = "image"
		}
		if typ != "text" {
			return []wireContent{{
				Type:     typ,
				Data:     base64.StdEncoding.EncodeToString(result.Blob.Bytes),
				MIMEType: result.Blob.MIMEType,
			}}, nil
		}
		// Unrecognized MIME prefix: fall through to JSON-encoding the raw
		// bytes as a text block rather than silently dropping them.
		payload = result.Blob.Bytes
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []wireContent{{Type: "text", Text: string(data)}}, nil
}
