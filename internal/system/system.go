package system

import (
	"github.com/DrC0ns0le/ripd/internal/router"
	"github.com/DrC0ns0le/ripd/pkg/logging"
)

// Node is the state shared by the components of one daemon process.
type Node struct {
	StopCh chan struct{}

	Router    *router.Router
	Neighbors []router.Neighbor

	Logger logging.Logger
}
