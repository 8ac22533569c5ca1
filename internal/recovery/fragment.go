package recovery

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// TokenTypeRecovery is the only fragment type the reset page accepts.
const TokenTypeRecovery = "recovery"

var (
	ErrMissingToken = errors.New("recovery: link has no access token")
	ErrWrongType    = errors.New("recovery: link is not a recovery link")
	ErrLinkRejected = errors.New("recovery: provider reported an error in the link")
)

// Token is the credential carried in a recovery link's fragment.
type Token struct {
	Raw  string
	Type string
}

// ParseFragment reads a recovery link fragment, with or without the leading "#".
// A full URL is accepted as well; only its fragment is considered.
func ParseFragment(fragment string) (Token, error) {
	if i := strings.IndexByte(fragment, '#'); i >= 0 {
		fragment = fragment[i+1:]
	}
	if strings.TrimSpace(fragment) == "" {
		return Token{}, ErrMissingToken
	}
	vals, err := url.ParseQuery(fragment)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMissingToken, err)
	}
	if code := vals.Get("error_code"); code != "" || vals.Get("error") != "" {
		desc := vals.Get("error_description")
		if desc == "" {
			desc = vals.Get("error")
		}
		return Token{}, fmt.Errorf("%w: %s", ErrLinkRejected, desc)
	}
	tok := Token{Raw: vals.Get("access_token"), Type: vals.Get("type")}
	if strings.TrimSpace(tok.Raw) == "" {
		return Token{}, ErrMissingToken
	}
	if tok.Type != TokenTypeRecovery {
		return Token{}, ErrWrongType
	}
	return tok, nil
}

// URLLocation is a Location over a parsed URL, used by the CLI.
type URLLocation struct {
	URL *url.URL
}

func (l *URLLocation) Fragment() string {
	if l == nil || l.URL == nil {
		return ""
	}
	return l.URL.EscapedFragment()
}

func (l *URLLocation) ClearFragment() {
	if l == nil || l.URL == nil {
		return
	}
	l.URL.Fragment = ""
	l.URL.RawFragment = ""
}
