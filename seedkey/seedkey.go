// Package seedkey implements the key-derivation driver invoked by
// session.Session to unlock protected resources: given a seed handed back
// by GET_SEED, it produces the key bytes UNLOCK expects.
//
// Two concrete Deriver kinds are provided: NativeLibrary, an in-process Go
// plugin, and Spawner, an external helper process. There is no named-kind
// registry; callers construct the kind they need directly.
package seedkey

import (
	"bytes"
	"fmt"
	"os/exec"
	"plugin"
	"sync"

	"github.com/asamint/goxcp"
)

// Deriver computes a key from a seed for the given privilege mask.
type Deriver interface {
	ComputeKey(privilege xcp.Resource, seed []byte) ([]byte, error)
}

// DeriverFunc adapts a plain function to Deriver.
type DeriverFunc func(privilege xcp.Resource, seed []byte) ([]byte, error)

func (f DeriverFunc) ComputeKey(privilege xcp.Resource, seed []byte) ([]byte, error) {
	return f(privilege, seed)
}

// computeKeyFromSeed matches the native ABI every in-process driver must
// export: XCP_ComputeKeyFromSeed(privilege, seedLen, seed, keyLenInout, keyOut) -> status.
type computeKeyFromSeed func(privilege uint8, seedLen int, seed []byte, keyLenInout *int, keyOut []byte) int32

// NativeLibrary loads a shared object exporting XCP_ComputeKeyFromSeed and
// calls it in-process. Loaded once per path and cached, since re-opening a
// plugin with the same path is rejected by the runtime.
type NativeLibrary struct {
	mu   sync.Mutex
	path string
	fn   computeKeyFromSeed
}

var libCache = struct {
	mu    sync.Mutex
	byPath map[string]computeKeyFromSeed
}{byPath: make(map[string]computeKeyFromSeed)}

// NewNativeLibrary opens path (a Go plugin built with -buildmode=plugin
// exporting XCP_ComputeKeyFromSeed) and returns a Deriver bound to it.
//
// Go's plugin package is used rather than raw dlopen/cgo because the
// examples carry no cgo-based FFI pattern to ground one on, and this is the
// one driver concern the standard library already expresses as a clean,
// idiomatic API (see DESIGN.md).
func NewNativeLibrary(path string) (*NativeLibrary, error) {
	libCache.mu.Lock()
	fn, ok := libCache.byPath[path]
	libCache.mu.Unlock()
	if !ok {
		p, err := plugin.Open(path)
		if err != nil {
			return nil, &xcp.SeedNKeyError{Reason: fmt.Sprintf("open %s: %v", path, err)}
		}
		sym, err := p.Lookup("XCP_ComputeKeyFromSeed")
		if err != nil {
			return nil, &xcp.SeedNKeyError{Reason: fmt.Sprintf("%s: missing XCP_ComputeKeyFromSeed: %v", path, err)}
		}
		fn, ok = sym.(func(uint8, int, []byte, *int, []byte) int32)
		if !ok {
			return nil, &xcp.SeedNKeyError{Reason: fmt.Sprintf("%s: XCP_ComputeKeyFromSeed has the wrong signature", path)}
		}
		libCache.mu.Lock()
		libCache.byPath[path] = fn
		libCache.mu.Unlock()
	}
	return &NativeLibrary{path: path, fn: fn}, nil
}

// ComputeKey implements Deriver.
func (n *NativeLibrary) ComputeKey(privilege xcp.Resource, seed []byte) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	keyLen := 256 // generous upper bound; key_len_inout reports actual use
	key := make([]byte, keyLen)
	status := n.fn(uint8(privilege), len(seed), seed, &keyLen, key)
	if status != 0 {
		return nil, &xcp.SeedNKeyError{Reason: fmt.Sprintf("%s: XCP_ComputeKeyFromSeed returned status %d", n.path, status)}
	}
	return key[:keyLen], nil
}

// Spawner invokes an external helper binary instead of loading a shared
// library in-process, for the case where the vendor key-derivation library
// and the master process don't share a word width (a 32-bit library next to
// a 64-bit master, for instance). The seed is passed as a hex argv argument
// and the helper's stdout, also hex, is the key.
type Spawner struct {
	Path string // path to the helper binary
	Args []string
	Run  func(name string, arg ...string) *exec.Cmd // overridable for tests
}

// NewSpawner constructs a Spawner invoking the binary at path.
func NewSpawner(path string, args ...string) *Spawner {
	return &Spawner{Path: path, Args: args, Run: exec.Command}
}

// ComputeKey implements Deriver by spawning the helper with the privilege
// mask and hex-encoded seed appended to Args, and parsing a hex-encoded key
// from its stdout.
func (s *Spawner) ComputeKey(privilege xcp.Resource, seed []byte) ([]byte, error) {
	run := s.Run
	if run == nil {
		run = exec.Command
	}
	args := append(append([]string{}, s.Args...), fmt.Sprintf("%d", privilege), fmt.Sprintf("%x", seed))
	cmd := run(s.Path, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, &xcp.SeedNKeyError{Reason: fmt.Sprintf("%s: %v", s.Path, err)}
	}
	key, err := decodeHex(bytes.TrimSpace(stdout.Bytes()))
	if err != nil {
		return nil, &xcp.SeedNKeyError{Reason: fmt.Sprintf("%s: malformed key output: %v", s.Path, err)}
	}
	return key, nil
}

func decodeHex(b []byte) ([]byte, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(b)/2)
	for i := range out {
		hi, err := hexNibble(b[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(b[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex character %q", c)
	}
}
