package network

// LinkState describes the filtered interface as seen by the kernel.
type LinkState struct {
	Exists bool
	Up     bool
	// Bridge is the master bridge name, empty when the link is not a bridge port.
	Bridge string
}

// LinkInspector looks up interfaces.
type LinkInspector interface {
	Inspect(ifname string) (LinkState, error)
}
