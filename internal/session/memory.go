package session

import "sync"

// Memory is a Store that lives as long as the process.
type Memory struct {
	mut sync.Mutex
	st  state
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) IsSegmentOpen() (bool, error) {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.st.SegmentOpen, nil
}

func (m *Memory) SetSegmentOpen(open bool) error {
	m.mut.Lock()
	m.st.SegmentOpen = open
	m.mut.Unlock()
	return nil
}

func (m *Memory) PointCount() (int, error) {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.st.PointCount, nil
}

func (m *Memory) NextPointCount() (int, error) {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.st.PointCount++
	return m.st.PointCount, nil
}

func (m *Memory) ClearPointCount() error {
	m.mut.Lock()
	m.st.PointCount = 0
	m.mut.Unlock()
	return nil
}
