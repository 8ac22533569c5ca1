// Package nav describes where the console should go next.
package nav

import "context"

// Console screens.
const (
	PathHome          = "/"
	PathSignIn        = "/sign-in"
	PathResetPassword = "/reset-password"
)

// Intent asks the presentation layer to move to Path.
type Intent struct {
	Path   string
	Reason string
}

// Navigator receives intents. Implementations must not block.
type Navigator interface {
	Navigate(ctx context.Context, in Intent)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, in Intent)

func (f NavigatorFunc) Navigate(ctx context.Context, in Intent) { f(ctx, in) }

// Discard drops every intent.
var Discard Navigator = NavigatorFunc(func(context.Context, Intent) {})

// PreAuth reports whether path is a screen shown before sign-in.
func PreAuth(path string) bool {
	return path == PathSignIn || path == PathResetPassword
}
