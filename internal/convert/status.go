// Package convert maps domain results onto gRPC statuses with structured details.
package convert

import (
	"errors"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/and161185/practigate/internal/guard"
	"github.com/and161185/practigate/internal/verification"
)

// Domain is the ErrorInfo domain of every status produced here.
const Domain = "practigate"

// Metadata keys on ErrorInfo.
const (
	MetaRedirectTo = "redirect_to"
	MetaCode       = "code"
)

const retryAfter = 2 * time.Second

// DenialStatus converts a guard denial into a status. target, when set,
// is where an interactive client should navigate.
func DenialStatus(code guard.DenialCode, target string) error {
	c := codes.PermissionDenied
	msg := "access denied"
	switch code {
	case guard.None:
		return nil
	case guard.NotAuthenticated:
		c, msg = codes.Unauthenticated, "sign in required"
	case guard.AssuranceRequired:
		msg = "multi-factor authentication required"
	case guard.NotVerified:
		msg = "professional verification required"
	case guard.RoleMismatch:
		msg = "role not permitted"
	}
	info := &errdetails.ErrorInfo{Reason: reason(code), Domain: Domain}
	if target != "" {
		info.Metadata = map[string]string{MetaRedirectTo: target}
	}
	return withDetails(status.New(c, msg), info)
}

// DenialFromStatus recovers the denial code and redirect target from err.
func DenialFromStatus(err error) (guard.DenialCode, string, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return guard.None, "", false
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != Domain {
			continue
		}
		for _, code := range []guard.DenialCode{guard.NotAuthenticated, guard.AssuranceRequired, guard.NotVerified, guard.RoleMismatch} {
			if info.GetReason() == reason(code) {
				return code, info.GetMetadata()[MetaRedirectTo], true
			}
		}
	}
	return guard.None, "", false
}

// VerificationStatus converts a verification failure into a status.
// Transient failures carry a RetryInfo hint.
func VerificationStatus(err error) error {
	if err == nil {
		return nil
	}
	var ve *verification.Error
	if !errors.As(err, &ve) {
		return status.Error(codes.Internal, verification.Message(verification.CodeInternal))
	}
	c := codes.Internal
	switch ve.Code {
	case verification.CodeValidation, verification.CodeExpiredLicense, verification.CodeMalformedLicense:
		c = codes.InvalidArgument
	case verification.CodeStateConflict:
		c = codes.FailedPrecondition
	case verification.CodeNotFound:
		c = codes.NotFound
	case verification.CodeUnauthorized:
		c = codes.Unauthenticated
	case verification.CodeForbidden:
		c = codes.PermissionDenied
	case verification.CodeMethodNotAllowed:
		c = codes.Unimplemented
	case verification.CodeTimeout:
		c = codes.DeadlineExceeded
	case verification.CodeNetwork:
		c = codes.Unavailable
	}
	st := status.New(c, verification.Message(ve.Code))
	info := &errdetails.ErrorInfo{
		Reason:   strings.ToUpper(string(ve.Code)),
		Domain:   Domain,
		Metadata: map[string]string{MetaCode: string(ve.Code)},
	}
	if c == codes.Unavailable || c == codes.DeadlineExceeded {
		return withDetails(st, info, &errdetails.RetryInfo{RetryDelay: durationpb.New(retryAfter)})
	}
	return withDetails(st, info)
}

func withDetails(st *status.Status, details ...protoadapt.MessageV1) error {
	if ds, err := st.WithDetails(details...); err == nil {
		return ds.Err()
	}
	return st.Err()
}

func reason(code guard.DenialCode) string {
	return strings.ToUpper(code.String())
}
