package api_v1

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
)

func localized(code codes.Code, msg string) *status.Status {
	st := status.New(code, msg)
	d := &errdetails.LocalizedMessage{
		Locale:  "en-US",
		Message: msg,
	}
	std, err := st.WithDetails(d)
	if err != nil {
		return st
	}
	return std
}

type NotFoundError struct {
	Entity string
	Id     string
}

func (e NotFoundError) GRPCStatus() *status.Status {
	return localized(codes.NotFound, fmt.Sprintf("%s %s not found", e.Entity, e.Id))
}

func (e NotFoundError) Error() string {
	return e.GRPCStatus().Message()
}

type ForbiddenError struct {
	UserId string
	Reason string
}

func (e ForbiddenError) GRPCStatus() *status.Status {
	return localized(codes.PermissionDenied, fmt.Sprintf("user %s is not allowed: %s", e.UserId, e.Reason))
}

func (e ForbiddenError) Error() string {
	return e.GRPCStatus().Message()
}

type ValidationError struct {
	Message string
}

func (e ValidationError) GRPCStatus() *status.Status {
	return localized(codes.InvalidArgument, e.Message)
}

func (e ValidationError) Error() string {
	return e.Message
}

// ConflictError is returned when an operation is not valid for the current
// state of a run or run step.
type ConflictError struct {
	Message string
}

func (e ConflictError) GRPCStatus() *status.Status {
	return localized(codes.FailedPrecondition, e.Message)
}

func (e ConflictError) Error() string {
	return e.Message
}

// FatalError marks an integrity failure inside the run driver. The run it
// occurred in is failed rather than left running.
type FatalError struct {
	RunId  string
	Reason string
}

func (e FatalError) GRPCStatus() *status.Status {
	return localized(codes.Internal, fmt.Sprintf("run %s failed: %s", e.RunId, e.Reason))
}

func (e FatalError) Error() string {
	return e.GRPCStatus().Message()
}

func IsNotFound(err error) bool {
	var e NotFoundError
	return errors.As(err, &e)
}

func IsForbidden(err error) bool {
	var e ForbiddenError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e ValidationError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e ConflictError
	return errors.As(err, &e)
}

// IsPermanent reports errors that a retry of the same call can not fix.
func IsPermanent(err error) bool {
	var fatal FatalError
	return IsNotFound(err) || IsForbidden(err) || IsValidation(err) || IsConflict(err) || errors.As(err, &fatal)
}

// HTTPStatus maps an error returned by the engine or catalog to the status
// code used at the REST boundary.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsForbidden(err):
		return http.StatusForbidden
	case IsValidation(err):
		return http.StatusBadRequest
	case IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
