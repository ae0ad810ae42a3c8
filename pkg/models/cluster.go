// Package models holds the shared printer, print-job, and cluster entities
// tracked by the output subsystem, plus their observable mutation verbs.
package models

// Cluster is the unit of discovery: one or more physical printers fronted by
// a single host. ClusterID is a server-assigned secret and may rotate;
// HostGUID is the stable hardware identity used to recognize the same
// cluster across rotations.
type Cluster struct {
	ClusterID      string   `json:"cluster_id"`
	HostGUID       string   `json:"host_guid"`
	HostName       string   `json:"host_name"`
	HostVersion    string   `json:"host_version"`
	FriendlyName   string   `json:"friendly_name"`
	PrinterType    string   `json:"printer_type"`
	PrinterCount   int      `json:"printer_count"`
	HostInternalIP string   `json:"host_internal_ip"`
	IsOnline       bool     `json:"is_online"`
	Capabilities   []string `json:"capabilities,omitempty"`
}

// HasCapability reports whether the cluster advertises the named capability.
// Clusters that predate capability reporting advertise nothing; callers
// decide whether absence of the whole set means "unsupported" or "assume yes".
func (c *Cluster) HasCapability(name string) bool {
	for _, cap := range c.Capabilities {
		if cap == name {
			return true
		}
	}
	return false
}

// SupportsQueue reports whether the cluster supports a print-job queue.
// True unless the capability set is present and explicitly omits "queue".
func (c *Cluster) SupportsQueue() bool {
	if len(c.Capabilities) == 0 {
		return true
	}
	return c.HasCapability("queue")
}
