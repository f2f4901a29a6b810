package gpio

import (
	"sync"
	"testing"
)

func TestMockDriver_ReadsBackInputs(t *testing.T) {
	m := NewMockDriver()
	if lvl, _ := m.ReadPin(13); lvl != Low {
		t.Errorf("unset pin = %v, want LOW", lvl)
	}
	m.SetInput(13, High)
	if lvl, _ := m.ReadPin(13); lvl != High {
		t.Errorf("pin 13 = %v, want HIGH", lvl)
	}
}

func TestMockDriver_CountsWrites(t *testing.T) {
	m := NewMockDriver()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WritePin(2, High)
		}()
	}
	wg.Wait()
	if got := m.Writes(2); got != 8 {
		t.Errorf("writes = %d, want 8", got)
	}
	if got := m.Writes(3); got != 0 {
		t.Errorf("writes on untouched pin = %d, want 0", got)
	}
}

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true)
	if err != nil {
		t.Fatalf("NewDriver(true): %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Errorf("got %T, want *MockDriver", d)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestLevel_String(t *testing.T) {
	if High.String() != "HIGH" || Low.String() != "LOW" {
		t.Errorf("unexpected level names %q %q", High, Low)
	}
}
