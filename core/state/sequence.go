package state

// Height returns the host sequence number, advanced once per committed transition.
func (m *Manager) Height() uint64 {
	var height uint64
	if _, err := m.KVGet(heightKeyBytes, &height); err != nil {
		return 0
	}
	return height
}

// AdvanceHeight stages height+1 and returns it.
func (m *Manager) AdvanceHeight() (uint64, error) {
	next := m.Height() + 1
	if err := m.KVPut(heightKeyBytes, next); err != nil {
		return 0, err
	}
	return next, nil
}
