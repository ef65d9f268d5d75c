package cluster

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewNodeID derives a fresh NodeID for this process. The random component
// keeps restarts of the same physical host distinguishable even if the
// configured name collides; the incarnation defaults to wall-clock seconds
// so it is strictly greater after any restart.
func NewNodeID(name, gossipAddr string, incarnation uint64) NodeID {
	if name == "" {
		name = fmt.Sprintf("node-%s", uuid.NewString()[:13])
	}
	if incarnation == 0 {
		incarnation = uint64(time.Now().Unix())
	}
	return NodeID{Name: name, Incarnation: incarnation, GossipAddr: gossipAddr}
}
