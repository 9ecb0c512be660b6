package binance

import (
	"errors"
	"strings"

	"exchange-wrapper/internal/core"
)

const (
	apiCodeFilterFailure    = -1013
	apiCodeInvalidSymbol    = -1121
	apiCodeNewOrderRejected = -2010
	apiCodeCancelRejected   = -2011
	apiCodeOrderNotFound    = -2013
	apiCodeBadAPIKeyFormat  = -2014
	apiCodeRejectedAPIKey   = -2015
)

var apiErrorMessageKinds = map[string]error{
	"duplicate order sent.":                                  core.ErrDuplicateOrder,
	"account has insufficient balance for requested action.": core.ErrInsufficientBalance,
	"balance is insufficient.":                               core.ErrInsufficientBalance,
	"unknown order sent.":                                    core.ErrOrderNotFound,
	"order does not exist.":                                  core.ErrOrderNotFound,
	"order was canceled or expired.":                         core.ErrOrderExpired,
	"invalid symbol.":                                        core.ErrUnknownMarket,
}

var apiErrorCodeKinds = map[int]error{
	apiCodeOrderNotFound:   core.ErrOrderNotFound,
	apiCodeCancelRejected:  core.ErrOrderNotFound,
	apiCodeInvalidSymbol:   core.ErrUnknownMarket,
	apiCodeFilterFailure:   core.ErrOrderRejected,
	apiCodeBadAPIKeyFormat: core.ErrNotAuthenticated,
	apiCodeRejectedAPIKey:  core.ErrNotAuthenticated,
}

func wrapAPIError(code int, msg string) error {
	return classifyAPIError(APIError{Code: code, Msg: msg})
}

// classifyAPIError joins the API error with core.ErrGateway and every matching
// core error kind so callers can test for them with errors.Is.
func classifyAPIError(apiErr APIError) error {
	kinds := classifyAPIErrorKinds(apiErr)
	errChain := make([]error, 0, 2+len(kinds))
	errChain = append(errChain, apiErr, core.ErrGateway)
	errChain = append(errChain, kinds...)
	return errors.Join(errChain...)
}

func classifyAPIErrorKinds(apiErr APIError) []error {
	kinds := make([]error, 0, 2)
	normalizedMsg := normalizeAPIErrorMsg(apiErr.Msg)

	if kind, ok := apiErrorCodeKinds[apiErr.Code]; ok {
		kinds = appendErrorKind(kinds, kind)
	}
	if apiErr.Code == apiCodeNewOrderRejected {
		if _, ok := apiErrorMessageKinds[normalizedMsg]; !ok {
			kinds = appendErrorKind(kinds, core.ErrOrderRejected)
		}
	}
	if kind, ok := apiErrorMessageKinds[normalizedMsg]; ok {
		kinds = appendErrorKind(kinds, kind)
	}
	return kinds
}

func appendErrorKind(kinds []error, kind error) []error {
	if kind == nil {
		return kinds
	}
	for _, existing := range kinds {
		if existing == kind {
			return kinds
		}
	}
	return append(kinds, kind)
}

func normalizeAPIErrorMsg(msg string) string {
	return strings.ToLower(strings.TrimSpace(msg))
}

func AsAPIError(err error) (APIError, bool) {
	if err == nil {
		return APIError{}, false
	}
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}

func IsAPIErrorCode(err error, codes ...int) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	for _, code := range codes {
		if apiErr.Code == code {
			return true
		}
	}
	return false
}
