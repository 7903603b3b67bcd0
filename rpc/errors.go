package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"cipherlend/core"
	"cipherlend/fhe"
	"cipherlend/native/bank"
	nativecommon "cipherlend/native/common"
	"cipherlend/native/ctoken"
	"cipherlend/native/vault"
)

const jsonRPCVersion = "2.0"

// JSON-RPC error codes. -32700 through -32600 are the standard protocol codes;
// the rest are application codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
	CodeUnauthorized   = -32001
	CodeForbidden      = -32003
	CodeRateLimited    = -32020

	CodeInvalidWithdrawRequest = -32030
	CodeInvalidProof           = -32031
	CodePayoutFailed           = -32032
	CodeInsufficientBalance    = -32033
	CodeAmountTooLarge         = -32034
	CodeZeroAmount             = -32035
	CodeUnauthorizedCaller     = -32036
	CodeModulePaused           = -32040
	CodeNotDisclosed           = -32041
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// classify maps a domain error onto an HTTP status and JSON-RPC code.
func classify(err error) (int, int) {
	switch {
	case errors.Is(err, vault.ErrZeroAmount):
		return http.StatusBadRequest, CodeZeroAmount
	case errors.Is(err, vault.ErrAmountTooLarge):
		return http.StatusBadRequest, CodeAmountTooLarge
	case errors.Is(err, vault.ErrInvalidWithdrawRequest):
		return http.StatusNotFound, CodeInvalidWithdrawRequest
	case errors.Is(err, vault.ErrInvalidDecryptionProof):
		return http.StatusUnprocessableEntity, CodeInvalidProof
	case errors.Is(err, vault.ErrPayoutFailed):
		return http.StatusConflict, CodePayoutFailed
	case errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusConflict, CodeInsufficientBalance
	case errors.Is(err, ctoken.ErrUnauthorizedCaller):
		return http.StatusForbidden, CodeUnauthorizedCaller
	case errors.Is(err, vault.ErrHandleNotAllowed),
		errors.Is(err, ctoken.ErrHandleNotAllowed),
		errors.Is(err, fhe.ErrNotAllowed):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, fhe.ErrNotPublic):
		return http.StatusForbidden, CodeNotDisclosed
	case errors.Is(err, fhe.ErrUnknownHandle), errors.Is(err, fhe.ErrKindMismatch):
		return http.StatusBadRequest, CodeInvalidParams
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, CodeModulePaused
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, CodeServerError
	default:
		return http.StatusInternalServerError, CodeServerError
	}
}

func writeDomainError(w http.ResponseWriter, id interface{}, err error) int {
	status, code := classify(err)
	writeError(w, status, id, code, err.Error(), core.Outcome(err))
	return code
}
