package core

import (
	"fmt"
	"strings"
)

// SplitSymbol splits a unified BASE/QUOTE symbol into its currencies.
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(strings.TrimSpace(symbol), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: symbol must be BASE/QUOTE, got %q", ErrInvalidArgument, symbol)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}

func JoinSymbol(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}
