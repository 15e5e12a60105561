package workspace

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	require.NoError(t, WriteAtomic(path, []byte(`{"v":1}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))

	// Replacement is whole-file.
	require.NoError(t, WriteAtomic(path, []byte(`{"v":2}`)))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entity.json")

	for i := 0; i < 10; i++ {
		require.NoError(t, WriteAtomic(path, []byte(fmt.Sprintf("write %d", i))))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "entity.json", entries[0].Name())
}

func TestWriteAtomicMissingParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "entity.json")

	err := WriteAtomic(path, []byte("data"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

// A reader racing concurrent writers must observe one complete payload,
// never a mix of two.
func TestWriteAtomicConcurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contended.json")

	const (
		writers    = 4
		iterations = 50
		payloadLen = 4096
	)

	payload := func(w int) []byte {
		return bytes.Repeat([]byte{byte('a' + w)}, payloadLen)
	}
	require.NoError(t, WriteAtomic(path, payload(0)))

	errs := make(chan error, writers+1)
	done := make(chan struct{})
	readerDone := make(chan struct{})

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			data := payload(w)
			for i := 0; i < iterations; i++ {
				if err := WriteAtomic(path, data); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}

	go func() {
		defer close(readerDone)
		for {
			select {
			case <-done:
				return
			default:
			}
			data, err := os.ReadFile(path)
			if err != nil {
				errs <- err
				return
			}
			if len(data) != payloadLen {
				errs <- fmt.Errorf("torn read: %d bytes", len(data))
				return
			}
			for _, b := range data {
				if b != data[0] {
					errs <- fmt.Errorf("mixed payloads in one read")
					return
				}
			}
		}
	}()

	wg.Wait()
	close(done)
	<-readerDone
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may survive the race")
}
