package verification

var messages = map[Code]string{
	CodeValidation:       "Some of the license details are invalid. Please review the form and try again.",
	CodeExpiredLicense:   "This license has expired. Renew it with your licensing board before verifying.",
	CodeMalformedLicense: "The license number is not in a recognized format for the selected state.",
	CodeStateConflict:    "A verification for this license is already in progress or finished.",
	CodeInternal:         "The verification service had a problem. Please try again later.",
	CodeNotFound:         "We could not find that verification request.",
	CodeUnauthorized:     "Your session has ended. Sign in again to continue.",
	CodeForbidden:        "Your account is not allowed to request professional verification.",
	CodeMethodNotAllowed: "This verification action is not supported.",
	CodeTimeout:          "Verification is taking longer than expected. We will keep checking in the background.",
	CodeNetwork:          "We could not reach the verification service. Check your connection and retry.",
}

// Message returns the user-facing text for code. Unknown codes get the internal message.
func Message(code Code) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return messages[CodeInternal]
}
