package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yurug/maplume-sub000/internal/backend"
	"github.com/yurug/maplume-sub000/internal/contracts"
	"github.com/yurug/maplume-sub000/internal/crypto"
	"github.com/yurug/maplume-sub000/internal/syncqueue"
)

type vaultPushPayload struct {
	Blob string `json:"blob"`
	Hash string `json:"hash"`
}

type sharePushPayload struct {
	Recipient string                `json:"recipient"`
	Envelope  crypto.SharedEnvelope `json:"envelope"`
}

type shareRevokePayload struct {
	ID string `json:"id"`
}

// handleOperation executes one queued operation against the backend.
// Its error category decides the queue's verdict: network errors are
// retried, everything else drops the operation.
func (s *Service) handleOperation(ctx context.Context, op syncqueue.Operation) error {
	switch op.Type {
	case syncqueue.OpTypeVaultPush:
		var p vaultPushPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return badPayload(op, err)
		}
		_, err := s.client.PutVault(ctx, p.Blob, p.Hash)
		return err

	case syncqueue.OpTypeSharePush:
		var p sharePushPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return badPayload(op, err)
		}
		receipt, err := s.client.CreateShare(ctx, p.Recipient, p.Envelope)
		if err != nil {
			return err
		}
		s.logger.Debug("share delivered", "share_id", receipt.ID, "recipient", p.Recipient)
		return nil

	case syncqueue.OpTypeShareRevoke:
		var p shareRevokePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return badPayload(op, err)
		}
		err := s.client.DeleteShare(ctx, p.ID)
		if errors.Is(err, backend.ErrNotFound) {
			// Already gone; revocation is idempotent.
			return nil
		}
		return err

	default:
		return contracts.WrapCategorizedError(contracts.ErrorCategoryAPI,
			fmt.Errorf("unknown operation type %q", op.Type))
	}
}

func badPayload(op syncqueue.Operation, err error) error {
	return contracts.WrapCategorizedError(contracts.ErrorCategoryStorage,
		fmt.Errorf("operation %s payload: %w", op.ID, err))
}
