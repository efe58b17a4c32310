package testutil

import (
	"context"
	"fmt"
	"sync"

	"inertiavault/internal/destination"
	"inertiavault/internal/iv"
)

// NewTestDestination creates an in-memory destination for testing.
func NewTestDestination(name string) *destination.MemoryDestination {
	return destination.NewMemoryDestination(name)
}

// FaultyDestination wraps a Destination and injects failures.
// Configure the exported fields before the destination is used.
type FaultyDestination struct {
	iv.Destination

	// TransientWrites fails that many Write calls with ErrTransientIO
	// before letting writes through.
	TransientWrites int

	// WriteErr, when set, fails every Write with this error.
	WriteErr error

	// CorruptReads flips a byte in every block Read returns.
	CorruptReads bool

	// WriteHook runs before each Write reaches the wrapped destination.
	WriteHook func(blockID string)

	mu     sync.Mutex
	writes int
	reads  int
}

var _ iv.Destination = (*FaultyDestination)(nil)

// NewFaultyDestination wraps an in-memory destination named name.
func NewFaultyDestination(name string) *FaultyDestination {
	return &FaultyDestination{Destination: destination.NewMemoryDestination(name)}
}

func (f *FaultyDestination) Write(ctx context.Context, blockID string, data []byte) error {
	f.mu.Lock()
	f.writes++
	hook := f.WriteHook
	var err error
	switch {
	case f.WriteErr != nil:
		err = f.WriteErr
	case f.TransientWrites > 0:
		f.TransientWrites--
		err = fmt.Errorf("%w: injected write failure", iv.ErrTransientIO)
	}
	f.mu.Unlock()

	if hook != nil {
		hook(blockID)
	}
	if err != nil {
		return err
	}
	return f.Destination.Write(ctx, blockID, data)
}

func (f *FaultyDestination) Read(ctx context.Context, blockID string) ([]byte, error) {
	f.mu.Lock()
	f.reads++
	corrupt := f.CorruptReads
	f.mu.Unlock()

	data, err := f.Destination.Read(ctx, blockID)
	if err != nil || !corrupt {
		return data, err
	}
	if len(data) == 0 {
		return []byte{0}, nil
	}
	data[0] ^= 0xff
	return data, nil
}

// Writes returns how many Write calls were made, including failed ones.
func (f *FaultyDestination) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// Reads returns how many Read calls were made.
func (f *FaultyDestination) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}
