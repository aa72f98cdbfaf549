package filestack

import (
	"fmt"
	"strings"
)

// Security holds the policy and signature sent with every call when application security is enabled.
// Both are generated by the application owner and passed in as is.
type Security struct {
	Policy    string
	Signature string
}

// SignURL appends the policy and signature query parameters to rawURL.
func (s *Security) SignURL(rawURL string) string {
	separator := "?"
	if strings.Contains(rawURL, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%spolicy=%s&signature=%s", rawURL, separator, s.Policy, s.Signature)
}
