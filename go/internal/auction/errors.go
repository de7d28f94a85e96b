package auction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mcdev12/landauction/go/internal/ledger"
)

// Code identifies why an action was rejected.
type Code string

const (
	CodeAuctionNotRunning  Code = "AUCTION_NOT_RUNNING"
	CodePlotNotActive      Code = "PLOT_NOT_ACTIVE"
	CodeTeamBanned         Code = "TEAM_BANNED"
	CodeBidTooLow          Code = "BID_TOO_LOW"
	CodeAlreadyHighest     Code = "ALREADY_HIGHEST"
	CodeInsufficientBudget Code = "INSUFFICIENT_BUDGET"
	CodeWrongPhase         Code = "WRONG_PHASE"
	CodeAtFirstPlot        Code = "AT_FIRST_PLOT"
	CodeNotOwner           Code = "NOT_OWNER"
	CodePriceOutOfRange    Code = "PRICE_OUT_OF_RANGE"
	CodeOwnOffer           Code = "OWN_OFFER"
	CodeOfferClosed        Code = "OFFER_CLOSED"
	CodeBadCredentials     Code = "BAD_CREDENTIALS"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
)

// Rejection is returned when an action's preconditions do not hold. Nothing
// was written when a Rejection is returned.
type Rejection struct {
	Code    Code
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

func reject(code Code, format string, args ...any) error {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// NotFoundError reports a missing team, plot, offer or snapshot. It matches
// ledger.ErrNotFound with errors.Is.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

// Is implements errors.Is.
func (e *NotFoundError) Is(target error) bool {
	return target == ledger.ErrNotFound
}

// Code returns a code such as TEAM_NOT_FOUND.
func (e *NotFoundError) Code() string {
	return strings.ToUpper(e.Kind) + "_NOT_FOUND"
}

// lookupErr converts a ledger miss into a NotFoundError and wraps anything else.
func lookupErr(err error, kind string, key any) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return &NotFoundError{Kind: kind, Key: fmt.Sprint(key)}
	}
	return fmt.Errorf("failed to load %s %v: %w", kind, key, err)
}
