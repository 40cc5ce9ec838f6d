package ingress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRequest marks a request rejected at the boundary.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTypeMismatch is returned for pieces addressed to another machine type.
	ErrTypeMismatch = fmt.Errorf("%w: piece type does not match this machine", ErrInvalidRequest)
)

// maxQuantity bounds a single batch request.
const maxQuantity = 10000

// PublicKeyAvailable is the only notice value the auth service sends.
const PublicKeyAvailable = "AVAILABLE"

// Identifier accepts either a JSON string or a JSON integer. Upstream
// services are not consistent about which they send.
type Identifier string

// UnmarshalJSON implements json.Unmarshaler.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = Identifier(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or integer: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("identifier must be a string or integer, got %s", n)
	}
	*id = Identifier(n.String())
	return nil
}

// ProduceRequest asks for one piece (PieceID) or a batch of Quantity pieces
// on behalf of RequesterID.
type ProduceRequest struct {
	PieceID     Identifier `json:"piece_id,omitempty"`
	PieceType   string     `json:"piece_type,omitempty"`
	RequesterID Identifier `json:"requester_id,omitempty"`
	Quantity    int        `json:"quantity,omitempty"`
}

// CancelRequest names the piece to cancel.
type CancelRequest struct {
	PieceID Identifier `json:"piece_id"`
}

// PublicKeyNotice announces that the auth service has a new key.
type PublicKeyNotice struct {
	PublicKey string `json:"public_key"`
}

func decode(body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", ErrInvalidRequest, err)
	}
	return nil
}

// pieceIDs validates req and expands it into the piece ids to create.
// Batch ids are deterministic, so a redelivered batch maps onto the same
// pieces.
func (req ProduceRequest) pieceIDs() ([]string, error) {
	pieceID := string(req.PieceID)
	requester := string(req.RequesterID)
	switch {
	case pieceID != "" && requester != "":
		return nil, fmt.Errorf("%w: piece_id and requester_id are mutually exclusive", ErrInvalidRequest)
	case pieceID != "":
		if req.Quantity > 1 {
			return nil, fmt.Errorf("%w: quantity applies to requester_id batches only", ErrInvalidRequest)
		}
		return []string{pieceID}, nil
	case requester != "":
		if req.Quantity < 1 || req.Quantity > maxQuantity {
			return nil, fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidRequest, maxQuantity)
		}
		ids := make([]string, 0, req.Quantity)
		for n := 1; n <= req.Quantity; n++ {
			ids = append(ids, requester+"-"+strconv.Itoa(n))
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("%w: piece_id or requester_id is required", ErrInvalidRequest)
	}
}
