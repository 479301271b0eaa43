package model

import (
	"encoding/json"
	"fmt"
)

// UserRef identifies the buyer inside a purchase-attempt message.
// The ID forms the idempotency key together with the goods ID.
type UserRef struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname,omitempty"`
}

// PurchaseAttempt is the message body published to the main queue.
// It is immutable once published; the retry count travels in message
// headers, not in the body, so redeliveries keep the body byte-identical.
type PurchaseAttempt struct {
	GoodsID int64   `json:"goodsId"`
	User    UserRef `json:"user"`
}

// Validate does minimal field validation so consumers never process
// structurally broken attempts.
func (a *PurchaseAttempt) Validate() error {
	if a.GoodsID <= 0 {
		return fmt.Errorf("goodsId is required")
	}
	if a.User.ID <= 0 {
		return fmt.Errorf("user.id is required")
	}
	return nil
}

// Encode serializes the attempt for publishing.
func (a *PurchaseAttempt) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// DecodePurchaseAttempt parses and validates a message body. A failure here
// is permanent: retrying cannot make a malformed payload valid.
func DecodePurchaseAttempt(data []byte) (*PurchaseAttempt, error) {
	var attempt PurchaseAttempt
	if err := json.Unmarshal(data, &attempt); err != nil {
		return nil, fmt.Errorf("failed to decode purchase attempt: %w", err)
	}
	if err := attempt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid purchase attempt: %w", err)
	}
	return &attempt, nil
}
