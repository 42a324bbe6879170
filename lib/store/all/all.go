// Package all is a meta-package that imports all store implementations.
//
// Import it for its side effects wherever a backend is picked by name.
package all

import (
	_ "github.com/TecharoHQ/tracecaptcha/lib/store/bbolt"
	_ "github.com/TecharoHQ/tracecaptcha/lib/store/memory"
	_ "github.com/TecharoHQ/tracecaptcha/lib/store/valkey"
)
