package auth

import "unicode/utf8"

const MinPasswordLength = 12

type StrengthResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidatePasswordStrength 检查全部规则并返回所有不满足项。
func ValidatePasswordStrength(password string) StrengthResult {
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			// anything outside ASCII letters and digits
			symbol = true
		}
	}

	errs := []string{}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		errs = append(errs, "Password must be at least 12 characters long")
	}
	if !upper {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if !lower {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if !digit {
		errs = append(errs, "Password must contain at least one number")
	}
	if !symbol {
		errs = append(errs, "Password must contain at least one special character")
	}
	return StrengthResult{Valid: len(errs) == 0, Errors: errs}
}
