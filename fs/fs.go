package appfs

import "embed"

// FS embeds the app's non-Go assets (database migrations).
//go:embed migrations
var FS embed.FS
