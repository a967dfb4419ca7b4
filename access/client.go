package access

// ManagerClient receives manager-level notifications that are independent of
// any single request. Clients must be tracked with Track before AddClient.
type ManagerClient interface {
	OnSourceAdded(m *Manager, s Source)
	OnSourceRemoved(m *Manager, s Source)
	OnSourceConnecting(m *Manager, s Source)
	OnSourceConnected(m *Manager, s Source)
	OnSourceDisconnected(m *Manager, s Source, reason DisconnectReason)
	OnSourceLog(m *Manager, s Source, msg string)
}

// NopClient implements ManagerClient with no-ops. Embed it to handle only
// the notifications of interest.
type NopClient struct{}

func (NopClient) OnSourceAdded(*Manager, Source)                          {}
func (NopClient) OnSourceRemoved(*Manager, Source)                        {}
func (NopClient) OnSourceConnecting(*Manager, Source)                     {}
func (NopClient) OnSourceConnected(*Manager, Source)                      {}
func (NopClient) OnSourceDisconnected(*Manager, Source, DisconnectReason) {}
func (NopClient) OnSourceLog(*Manager, Source, string)                    {}
