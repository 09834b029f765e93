package ports

import "context"

// DisplayRefreshSource fires a callback once per vertical-blank tick. A
// stock-Go adapter drives it off a ticker; the real collaborator would be a
// platform vsync callback (CADisplayLink analogue).
type DisplayRefreshSource interface {
	// Run blocks, invoking tick on every refresh, until ctx is done.
	Run(ctx context.Context, tick func())
}
