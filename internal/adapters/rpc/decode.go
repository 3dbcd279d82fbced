package rpc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var errInvalidParams = errors.New("invalid params")

func decodeOneStringParam(raw json.RawMessage) (string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 && arr[0] != "" {
		return arr[0], nil
	}
	return "", errInvalidParams
}

func decodeTwoStringParams(raw json.RawMessage) (string, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 2 && arr[0] != "" && arr[1] != "" {
		return arr[0], arr[1], nil
	}
	return "", "", errInvalidParams
}

// decodeCreateParams accepts ["username"], ["username","display name"]
// or {"username":...,"display_name":...}.
func decodeCreateParams(raw json.RawMessage) (string, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		switch len(arr) {
		case 1:
			if arr[0] != "" {
				return arr[0], "", nil
			}
		case 2:
			if arr[0] != "" {
				return arr[0], arr[1], nil
			}
		}
		return "", "", errInvalidParams
	}
	var obj struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || strings.TrimSpace(obj.Username) == "" {
		return "", "", errInvalidParams
	}
	return obj.Username, obj.DisplayName, nil
}

// decodeVaultPushParams accepts [<data>] or {"data": <data>} where
// <data> is the caller's opaque vault document.
func decodeVaultPushParams(raw json.RawMessage) (json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 && len(arr[0]) > 0 {
		return arr[0], nil
	}
	var obj struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj.Data) == 0 {
		return nil, errInvalidParams
	}
	return obj.Data, nil
}

// decodeShareCreateParams accepts ["recipient","<b64 key>",<payload>]
// or {"recipient":...,"recipient_key":...,"payload":...}. The key is
// the recipient's X25519 public key, base64.
func decodeShareCreateParams(raw json.RawMessage) (string, []byte, json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 3 {
		var recipient, keyB64 string
		if json.Unmarshal(arr[0], &recipient) != nil || json.Unmarshal(arr[1], &keyB64) != nil {
			return "", nil, nil, errInvalidParams
		}
		key, err := decodeShareKey(recipient, keyB64)
		if err != nil {
			return "", nil, nil, err
		}
		if len(arr[2]) == 0 {
			return "", nil, nil, errInvalidParams
		}
		return recipient, key, arr[2], nil
	}
	var obj struct {
		Recipient    string          `json:"recipient"`
		RecipientKey string          `json:"recipient_key"`
		Payload      json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj.Payload) == 0 {
		return "", nil, nil, errInvalidParams
	}
	key, err := decodeShareKey(obj.Recipient, obj.RecipientKey)
	if err != nil {
		return "", nil, nil, err
	}
	return obj.Recipient, key, obj.Payload, nil
}

func decodeShareKey(recipient, keyB64 string) ([]byte, error) {
	if strings.TrimSpace(recipient) == "" || strings.TrimSpace(keyB64) == "" {
		return nil, errInvalidParams
	}
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, errInvalidParams
	}
	return key, nil
}

func rpcInvalidParams() *rpcError {
	return &rpcError{Code: -32602, Message: "invalid params"}
}

func rpcServiceError(code int, err error) *rpcError {
	return &rpcError{Code: code, Message: err.Error()}
}
