package ftx

import (
	"errors"
	"fmt"
	"strings"

	"exchange-wrapper/internal/core"
)

type APIError struct {
	Status int
	Msg    string
}

func (e APIError) Error() string {
	return fmt.Sprintf("ftx api error %d: %s", e.Status, e.Msg)
}

var apiErrorKinds = []struct {
	fragment string
	kind     error
}{
	{"order not found", core.ErrOrderNotFound},
	{"order already closed", core.ErrOrderNotFound},
	{"already queued for cancel", core.ErrOrderNotFound},
	{"not enough balances", core.ErrInsufficientBalance},
	{"no such market", core.ErrUnknownMarket},
	{"not logged in", core.ErrNotAuthenticated},
	{"invalid api key", core.ErrNotAuthenticated},
	{"duplicate client order id", core.ErrDuplicateOrder},
	{"size too small", core.ErrOrderRejected},
	{"invalid size", core.ErrOrderRejected},
	{"invalid price", core.ErrOrderRejected},
}

func classifyAPIError(apiErr APIError) error {
	msg := strings.ToLower(apiErr.Msg)
	errChain := []error{apiErr, core.ErrGateway}
	for _, k := range apiErrorKinds {
		if strings.Contains(msg, k.fragment) {
			errChain = append(errChain, k.kind)
			break
		}
	}
	return errors.Join(errChain...)
}

func AsAPIError(err error) (APIError, bool) {
	var apiErr APIError
	if err == nil || !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}
