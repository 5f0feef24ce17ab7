package audio

import (
	"bytes"
	"sync"
	"testing"
)

func TestRingBuffer_Write(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Write([]byte{1, 2, 3, 4, 5})
	if rb.Available() != 5 {
		t.Errorf("Expected available 5, got %d", rb.Available())
	}

	rb.Write([]byte{6, 7, 8})
	if rb.Available() != 8 {
		t.Errorf("Expected available 8, got %d", rb.Available())
	}
}

func TestRingBuffer_OverwritesOldest(t *testing.T) {
	rb := NewRingBuffer(5)

	rb.Write([]byte{1, 2, 3, 4})
	rb.Write([]byte{5, 6, 7})

	if rb.Available() != 5 {
		t.Fatalf("Expected available 5, got %d", rb.Available())
	}
	if rb.Dropped() != 2 {
		t.Errorf("Expected 2 dropped bytes, got %d", rb.Dropped())
	}

	got := rb.Drain()
	if !bytes.Equal(got, []byte{3, 4, 5, 6, 7}) {
		t.Errorf("Expected newest bytes [3 4 5 6 7], got %v", got)
	}
}

func TestRingBuffer_OversizedWrite(t *testing.T) {
	rb := NewRingBuffer(4)

	rb.Write([]byte{1, 2, 3, 4, 5, 6})

	got := rb.Drain()
	if !bytes.Equal(got, []byte{3, 4, 5, 6}) {
		t.Errorf("Expected tail [3 4 5 6], got %v", got)
	}
	if rb.Dropped() != 2 {
		t.Errorf("Expected 2 dropped bytes, got %d", rb.Dropped())
	}
}

func TestRingBuffer_Read(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte{1, 2, 3, 4, 5})

	readData := make([]byte, 3)
	read := rb.Read(readData)
	if read != 3 {
		t.Errorf("Expected to read 3 bytes, got %d", read)
	}
	if !bytes.Equal(readData, []byte{1, 2, 3}) {
		t.Errorf("Expected [1 2 3], got %v", readData)
	}
	if rb.Available() != 2 {
		t.Errorf("Expected available 2, got %d", rb.Available())
	}
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer(5)

	rb.Write([]byte{1, 2, 3})
	rb.Read(make([]byte, 2))
	rb.Write([]byte{4, 5, 6, 7})

	got := rb.Drain()
	if !bytes.Equal(got, []byte{3, 4, 5, 6, 7}) {
		t.Errorf("Expected [3 4 5 6 7], got %v", got)
	}
	if !rb.IsEmpty() {
		t.Error("Expected buffer empty after drain")
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte{1, 2, 3})
	rb.Clear()

	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty after clear")
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := NewRingBuffer(64)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rb.Write([]byte{1, 2, 3, 4})
				rb.Read(make([]byte, 2))
			}
		}()
	}
	wg.Wait()

	if rb.Available() > 64 {
		t.Errorf("Buffer exceeded capacity: %d", rb.Available())
	}
}
