// Package adapters provides the bidder adapter framework
package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// BidderErrorCode classifies adapter errors
type BidderErrorCode string

const (
	ErrorCodeBadInput   BidderErrorCode = "BAD_INPUT"
	ErrorCodeBadStatus  BidderErrorCode = "BAD_STATUS"
	ErrorCodeParse      BidderErrorCode = "PARSE_ERROR"
	ErrorCodeTimeout    BidderErrorCode = "TIMEOUT"
	ErrorCodeConnection BidderErrorCode = "CONNECTION_ERROR"
)

// BidderError represents a standardized adapter error
type BidderError struct {
	BidderCode string
	Code       BidderErrorCode
	Message    string
	Cause      error
}

func (e *BidderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Code, e.BidderCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.BidderCode, e.Message)
}

func (e *BidderError) Unwrap() error {
	return e.Cause
}

// NewBadInputError reports a request the adapter refuses to send
func NewBadInputError(bidderCode string, cause error) *BidderError {
	return &BidderError{
		BidderCode: bidderCode,
		Code:       ErrorCodeBadInput,
		Message:    "invalid bid request",
		Cause:      cause,
	}
}

// NewBadStatusError creates a standardized status code error
func NewBadStatusError(bidderCode string, statusCode int) *BidderError {
	return &BidderError{
		BidderCode: bidderCode,
		Code:       ErrorCodeBadStatus,
		Message:    fmt.Sprintf("unexpected status: %d", statusCode),
	}
}

// NewParseError creates a standardized parse error
func NewParseError(bidderCode string, cause error) *BidderError {
	return &BidderError{
		BidderCode: bidderCode,
		Code:       ErrorCodeParse,
		Message:    "failed to parse response",
		Cause:      cause,
	}
}

// NewTransportError classifies a failed HTTP call as a timeout or a
// connection error
func NewTransportError(bidderCode string, cause error) *BidderError {
	var netErr net.Error
	if errors.Is(cause, context.DeadlineExceeded) || (errors.As(cause, &netErr) && netErr.Timeout()) {
		return &BidderError{
			BidderCode: bidderCode,
			Code:       ErrorCodeTimeout,
			Message:    "request timed out",
			Cause:      cause,
		}
	}
	return &BidderError{
		BidderCode: bidderCode,
		Code:       ErrorCodeConnection,
		Message:    "request failed",
		Cause:      cause,
	}
}

// IsTimeout reports whether err is a bidder timeout
func IsTimeout(err error) bool {
	var bidderErr *BidderError
	return errors.As(err, &bidderErr) && bidderErr.Code == ErrorCodeTimeout
}

// BuildAdUnitMap indexes the round's ad units by code
func BuildAdUnitMap(adUnits []AdUnit) map[string]*AdUnit {
	adUnitMap := make(map[string]*AdUnit, len(adUnits))
	for i := range adUnits {
		adUnitMap[adUnits[i].Code] = &adUnits[i]
	}
	return adUnitMap
}

// UnknownAdUnits returns the codes of results that name no ad unit in the
// request, in result order. Results are correlated by code only, so a
// bidder answering for another round shows up here.
func UnknownAdUnits(request *AuctionRequest, results []BidResult) []string {
	adUnitMap := BuildAdUnitMap(request.AdUnits)

	var unknown []string
	for _, result := range results {
		if _, ok := adUnitMap[result.AdUnitCode]; !ok {
			unknown = append(unknown, result.AdUnitCode)
		}
	}
	return unknown
}
