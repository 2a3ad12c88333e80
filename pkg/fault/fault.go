package fault

import (
	"fmt"

	"github.com/juju/errors"
)

// ErrorCode classifies a user-correctable cluster management error
type ErrorCode string

const (
	CertificateAndScaleUpgradeTogetherNotAllowed         ErrorCode = "CertificateAndScaleUpgradeTogetherNotAllowed"
	ScaleUpAndScaleDownUpgradeNotAllowedForOlderClusters ErrorCode = "ScaleUpAndScaleDownUpgradeNotAllowedForOlderClusters"
	InvalidReliabilityLevel                              ErrorCode = "InvalidReliabilityLevel"
	InvalidPortRange                                     ErrorCode = "InvalidPortRange"
	EphemeralAndApplicationPortsOverlap                  ErrorCode = "EphemeralAndApplicationPortsOverlap"
	PrimaryNodeTypeModificationNotAllowed                ErrorCode = "PrimaryNodeTypeModificationNotAllowed"
	NodeTypeEndpointChangeNotAllowed                     ErrorCode = "NodeTypeEndpointChangeNotAllowed"
	UnsupportedCertificateChange                         ErrorCode = "UnsupportedCertificateChange"
	NoCertificateChange                                  ErrorCode = "NoCertificateChange"
)

// InvariantCode classifies a programming or data corruption error
type InvariantCode string

const (
	OperationInconsistentWithStateMachine InvariantCode = "OperationInconsistentWithStateMachine"
)

// ClusterManagementError is a domain error surfaced synchronously to the caller.
// It is never retried internally.
type ClusterManagementError struct {
	Code    ErrorCode
	Message string
}

func (e *ClusterManagementError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// InvariantViolation signals a state the machine must never reach
type InvariantViolation struct {
	Code    InvariantCode
	Message string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated (%s): %s", e.Code, e.Message)
}

// Newf creates a domain error with the given code
func Newf(code ErrorCode, format string, args ...interface{}) error {
	return errors.Trace(&ClusterManagementError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

// Invariantf creates an invariant violation with OperationInconsistentWithStateMachine
func Invariantf(format string, args ...interface{}) error {
	return errors.Trace(&InvariantViolation{
		Code:    OperationInconsistentWithStateMachine,
		Message: fmt.Sprintf(format, args...),
	})
}

// HasCode reports whether err wraps a domain error with the given code
func HasCode(err error, code ErrorCode) bool {
	var cme *ClusterManagementError
	if errors.As(err, &cme) {
		return cme.Code == code
	}
	return false
}

// IsInvariantViolation reports whether err wraps an invariant violation
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

// Code returns the domain error code of err, or an empty code
func Code(err error) ErrorCode {
	var cme *ClusterManagementError
	if errors.As(err, &cme) {
		return cme.Code
	}
	return ""
}
