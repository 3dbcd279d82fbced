package rpc

import (
	"context"
	"encoding/json"
)

// Per-family service error codes from the implementation-defined
// -32000..-32099 range.
const (
	codeIdentity = -32020
	codeAuth     = -32030
	codeVault    = -32040
	codeShare    = -32050
	codeQueue    = -32060
)

func (s *Server) dispatch(ctx context.Context, method string, rawParams json.RawMessage) (any, *rpcError) {
	switch method {
	case "health_check":
		return map[string]string{"status": "ok"}, nil

	case "identity.generate_mnemonic":
		return callNoParams(codeIdentity, func() (any, error) {
			mnemonic, err := s.service.GenerateMnemonic()
			if err != nil {
				return nil, err
			}
			return map[string]string{"mnemonic": mnemonic}, nil
		})
	case "identity.validate_mnemonic":
		return callOneString(rawParams, codeIdentity, func(mnemonic string) (any, error) {
			return map[string]bool{"valid": s.service.ValidateMnemonic(mnemonic)}, nil
		})
	case "identity.create":
		username, displayName, err := decodeCreateParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams()
		}
		ident, mnemonic, svcErr := s.service.CreateIdentity(ctx, username, displayName)
		if svcErr != nil {
			return nil, rpcServiceError(codeIdentity, svcErr)
		}
		return map[string]any{"identity": ident, "mnemonic": mnemonic}, nil
	case "identity.import":
		return callTwoStrings(rawParams, codeIdentity, func(username, mnemonic string) (any, error) {
			ident, err := s.service.ImportIdentity(ctx, username, mnemonic)
			if err != nil {
				return nil, err
			}
			return map[string]any{"identity": ident}, nil
		})
	case "identity.get":
		return callNoParams(codeIdentity, func() (any, error) {
			ident, ok := s.service.Identity()
			if !ok {
				return map[string]any{"exists": false}, nil
			}
			return map[string]any{
				"exists":   true,
				"identity": ident,
				"profile":  s.service.Profile(),
			}, nil
		})

	case "auth.login":
		return callNoParams(codeAuth, func() (any, error) {
			session, err := s.service.Login(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"session": session}, nil
		})
	case "auth.logout":
		return callNoParams(codeAuth, func() (any, error) {
			if err := s.service.Logout(ctx); err != nil {
				return nil, err
			}
			return map[string]bool{"logged_out": true}, nil
		})

	case "vault.push":
		data, err := decodeVaultPushParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams()
		}
		status, svcErr := s.service.PushVault(ctx, data)
		if svcErr != nil {
			return nil, rpcServiceError(codeVault, svcErr)
		}
		return map[string]any{"status": status}, nil
	case "vault.pull":
		return callNoParams(codeVault, func() (any, error) {
			data, status, found, err := s.service.PullVault(ctx)
			if err != nil {
				return nil, err
			}
			if !found {
				return map[string]any{"found": false}, nil
			}
			return map[string]any{"found": true, "data": data, "status": status}, nil
		})

	case "share.create":
		recipient, recipientKey, payload, err := decodeShareCreateParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams()
		}
		opID, svcErr := s.service.ShareWith(ctx, recipient, recipientKey, payload)
		if svcErr != nil {
			return nil, rpcServiceError(codeShare, svcErr)
		}
		return map[string]string{"op_id": opID}, nil
	case "share.open":
		return callNoParams(codeShare, func() (any, error) {
			shares, err := s.service.OpenShares(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"shares": shares}, nil
		})
	case "share.revoke":
		return callOneString(rawParams, codeShare, func(shareID string) (any, error) {
			if err := s.service.RevokeShare(ctx, shareID); err != nil {
				return nil, err
			}
			return map[string]bool{"revoked": true}, nil
		})

	case "queue.status":
		return callNoParams(codeQueue, func() (any, error) {
			return s.service.QueueStatus(), nil
		})
	case "queue.flush":
		return callNoParams(codeQueue, func() (any, error) {
			s.service.Flush(ctx)
			return s.service.QueueStatus(), nil
		})

	default:
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}
}

func callNoParams(serviceErrCode int, call func() (any, error)) (any, *rpcError) {
	result, err := call()
	if err != nil {
		return nil, rpcServiceError(serviceErrCode, err)
	}
	return result, nil
}

func callOneString(rawParams json.RawMessage, serviceErrCode int, call func(string) (any, error)) (any, *rpcError) {
	param, err := decodeOneStringParam(rawParams)
	if err != nil {
		return nil, rpcInvalidParams()
	}
	result, err := call(param)
	if err != nil {
		return nil, rpcServiceError(serviceErrCode, err)
	}
	return result, nil
}

func callTwoStrings(rawParams json.RawMessage, serviceErrCode int, call func(string, string) (any, error)) (any, *rpcError) {
	a, b, err := decodeTwoStringParams(rawParams)
	if err != nil {
		return nil, rpcInvalidParams()
	}
	result, err := call(a, b)
	if err != nil {
		return nil, rpcServiceError(serviceErrCode, err)
	}
	return result, nil
}
