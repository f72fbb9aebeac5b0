package chunk

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Protocol limits
const (
	DefaultChunkSize      = 60 * 1024        // Payload bytes carried by one fragment
	DefaultMaxFragments   = 1024             // Upper bound on Total accepted from a peer
	DefaultMaxPayloadSize = 64 * 1024 * 1024 // Upper bound on reassembled payload bytes
	DefaultMaxTransfers   = 64               // Live transfer buffers before eviction

	MinChunkSize        = utf8.UTFMax // Smallest chunk that always fits a whole rune
	MaxTransferIDLength = 128         // Bytes
)

var (
	// ErrMalformedFragment is returned for a fragment whose header is out of range.
	ErrMalformedFragment = errors.New("malformed fragment")
	// ErrTooManyFragments is returned when a fragment announces more than the allowed total.
	ErrTooManyFragments = errors.New("fragment count exceeds limit")
	// ErrPayloadTooLarge is returned when a payload needs more fragments than a peer accepts.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrInvalidPayload is returned for a payload that is not valid UTF-8 text.
	ErrInvalidPayload = errors.New("payload is not valid UTF-8")
	// ErrChunkTooSmall is returned when a chunk size cannot hold every rune whole.
	ErrChunkTooSmall = errors.New("chunk size too small")
	// ErrBufferOverflow is returned when a reassembled payload exceeds its size limit.
	ErrBufferOverflow = errors.New("reassembly buffer overflow")
	// ErrTotalMismatch is returned when a fragment disagrees with its transfer's total.
	ErrTotalMismatch = errors.New("fragment total does not match transfer")
	// ErrOriginMismatch is returned when a fragment comes from a peer other than the transfer's sender.
	ErrOriginMismatch = errors.New("fragment origin does not match transfer")
	// ErrIncompleteTransfer is returned when the final fragment arrives with slots still empty.
	ErrIncompleteTransfer = errors.New("final fragment arrived before all fragments")
)

// Fragment is one bounded-size piece of a payload
type Fragment struct {
	TransferID string // Empty means Data is a whole payload
	Total      int    // Number of fragments in the transfer
	Index      int    // Zero-based position
	Data       string // Payload slice
}

// IsFinal reports whether this fragment carries the last index
func (f Fragment) IsFinal() bool {
	return f.Index == f.Total-1
}

// Validate checks the fragment header against maxFragments
func (f Fragment) Validate(maxFragments int) error {
	if len(f.TransferID) > MaxTransferIDLength {
		return fmt.Errorf("%w: transfer ID of %d bytes", ErrMalformedFragment, len(f.TransferID))
	}
	if f.Total <= 0 {
		return fmt.Errorf("%w: total %d", ErrMalformedFragment, f.Total)
	}
	if maxFragments > 0 && f.Total > maxFragments {
		return fmt.Errorf("%w: total %d > %d", ErrTooManyFragments, f.Total, maxFragments)
	}
	if f.Index < 0 || f.Index >= f.Total {
		return fmt.Errorf("%w: index %d out of [0, %d)", ErrMalformedFragment, f.Index, f.Total)
	}
	return nil
}

// String returns string representation of Fragment
func (f Fragment) String() string {
	return fmt.Sprintf("Fragment{ID=%s, %d/%d, Len=%d}", f.TransferID, f.Index, f.Total, len(f.Data))
}

// FragmentCount returns ceil(n/chunkSize), minimum 1
func FragmentCount(n, chunkSize int) int {
	if n <= 0 || chunkSize <= 0 {
		return 1
	}
	return (n + chunkSize - 1) / chunkSize
}

// Split breaks payload into slices of at most chunkSize bytes.
// Cuts that would land inside a multi-byte UTF-8 sequence move back to the
// rune start, so ASCII payloads produce exactly FragmentCount slices.
// An empty payload yields a single empty slice. chunkSize must be at least
// MinChunkSize so that every slice stays valid UTF-8.
func Split(payload string, chunkSize int) ([]string, error) {
	if chunkSize < MinChunkSize {
		return nil, fmt.Errorf("%w: %d < %d bytes", ErrChunkTooSmall, chunkSize, MinChunkSize)
	}
	if len(payload) == 0 {
		return []string{""}, nil
	}

	slices := make([]string, 0, FragmentCount(len(payload), chunkSize))
	for offset := 0; offset < len(payload); {
		end := offset + chunkSize
		if end >= len(payload) {
			end = len(payload)
		} else {
			cut := end
			for cut > offset && !utf8.RuneStart(payload[cut]) {
				cut--
			}
			if cut > offset {
				end = cut
			}
		}

		slices = append(slices, payload[offset:end])
		offset = end
	}

	return slices, nil
}
