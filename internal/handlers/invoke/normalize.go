package invoke

import (
	"encoding/json"

	"inference-gateway/internal/shared"
)

// NormalizedRequest is the inbound payload split into the gateway's control
// fields and the backend-bound remainder. Payload never contains the control
// fields; everything else passes through verbatim because the backend's
// native schema differs per model family and is opaque to the gateway.
type NormalizedRequest struct {
	ModelID string
	Stream  bool
	Payload map[string]any
}

// Normalize parses and validates the raw request body. Deterministic, no side
// effects. An empty body is treated as an empty object, which then fails on
// the missing model id.
func Normalize(body []byte) (*NormalizedRequest, *shared.RequestError) {
	payload := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, shared.ErrMalformedBody
		}
	}

	model := payload["modelId"]
	delete(payload, "modelId")
	modelID, _ := model.(string)
	if modelID == "" {
		return nil, shared.ErrMissingModelID
	}

	// Non-boolean stream values coerce to the default. The field is removed
	// either way so it never reaches the backend.
	stream := false
	if v, ok := payload["stream"]; ok {
		stream, _ = v.(bool)
		delete(payload, "stream")
	}

	return &NormalizedRequest{
		ModelID: modelID,
		Stream:  stream,
		Payload: payload,
	}, nil
}
