package syncengine

import "strings"

// OTPLength is the number of digits in a one-time code.
const OTPLength = 6

// ValidateOTP checks that code is exactly six ASCII digits.
func ValidateOTP(code string) error {
	if len(code) != OTPLength {
		return &ValidationError{Field: "otp", Reason: "please enter all 6 digits"}
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return &ValidationError{Field: "otp", Reason: "code must contain digits only"}
		}
	}
	return nil
}

// ValidateMessageBody rejects empty and whitespace-only bodies.
func ValidateMessageBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return &ValidationError{Field: "content", Reason: "message is empty"}
	}
	return nil
}

// ValidateEmail does the minimal shape check done before OTP calls.
func ValidateEmail(email string) error {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\n") {
		return &ValidationError{Field: "email", Reason: "invalid address"}
	}
	return nil
}
