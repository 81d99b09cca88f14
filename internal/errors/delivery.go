package errors

import (
	stderrors "errors"
	"fmt"
)

// DeliveryClass is the closed classification of outbound message failures.
// Platform adapters resolve raw platform codes into a class once, so callers
// never inspect numeric codes.
type DeliveryClass string

const (
	// DeliveryPermanent means the recipient is unreachable for good
	// (bot blocked, removed from chat, privacy settings).
	DeliveryPermanent DeliveryClass = "permanent"
	// DeliveryTransient means the send may succeed later (flood control, outage).
	DeliveryTransient DeliveryClass = "transient"
	// DeliveryUnknown means the platform returned a code we do not classify.
	DeliveryUnknown DeliveryClass = "unknown"
)

// DeliveryError is returned by message senders
type DeliveryError struct {
	Class   DeliveryClass
	Code    int
	Message string
	Cause   error
}

// Error implements the error interface
func (e *DeliveryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s delivery error %d: %s (caused by: %v)", e.Class, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s delivery error %d: %s", e.Class, e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// NewPermanentDeliveryError creates a permanent delivery error
func NewPermanentDeliveryError(code int, message string) *DeliveryError {
	return &DeliveryError{Class: DeliveryPermanent, Code: code, Message: message}
}

// NewTransientDeliveryError creates a transient delivery error
func NewTransientDeliveryError(code int, message string, cause error) *DeliveryError {
	return &DeliveryError{Class: DeliveryTransient, Code: code, Message: message, Cause: cause}
}

// NewUnknownDeliveryError creates an unclassified delivery error
func NewUnknownDeliveryError(code int, message string) *DeliveryError {
	return &DeliveryError{Class: DeliveryUnknown, Code: code, Message: message}
}

// DeliveryClassOf returns the class of err, or DeliveryUnknown for foreign errors
func DeliveryClassOf(err error) DeliveryClass {
	var de *DeliveryError
	if stderrors.As(err, &de) {
		return de.Class
	}
	return DeliveryUnknown
}

// IsPermanentDelivery reports whether err means the recipient must be unsubscribed
func IsPermanentDelivery(err error) bool {
	return err != nil && DeliveryClassOf(err) == DeliveryPermanent
}
