package discovery

import (
	"errors"

	"github.com/printnest/printnest/internal/zeroconf"
)

// ErrUnknownDevice is returned for operations against a key no live device
// is bound to.
var ErrUnknownDevice = errors.New("discovery: unknown device")

// zeroconfService aliases the browser's event payload so the manager can
// implement zeroconf.Handler directly.
type zeroconfService = zeroconf.Service

func zeroconfBrowser(m *LocalManager) browser {
	return zeroconf.New(m, m.logger)
}
