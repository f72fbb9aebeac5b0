package chunk

import (
	"context"
	"errors"
	"strings"
	"testing"

	"avaneesh/shotxfer/pkg/types"
)

var testPeer = types.NewPeerIdentity("peer-b", "room@conference.example/peer-b")

// collect returns a SendFunc recording every fragment
func collect(out *[]Fragment) SendFunc {
	return func(ctx context.Context, to types.PeerIdentity, frag Fragment) error {
		*out = append(*out, frag)
		return nil
	}
}

func TestSender_SendSingleFragment(t *testing.T) {
	sender := NewSender(DefaultConfig(), nil, nil)

	var frags []Fragment
	id, n, err := sender.SplitAndSend(context.Background(), "data:image/png;base64,AAAA", testPeer, collect(&frags))
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}

	if n != 1 || len(frags) != 1 {
		t.Fatalf("Expected 1 fragment, got n=%d sent=%d", n, len(frags))
	}
	if frags[0].Total != 1 || frags[0].Index != 0 {
		t.Errorf("Expected 0/1, got %d/%d", frags[0].Index, frags[0].Total)
	}
	if frags[0].TransferID != id || id == "" {
		t.Errorf("Transfer ID mismatch: returned %q, fragment %q", id, frags[0].TransferID)
	}

	stats := sender.Stats()
	if stats.GetTxFragments() != 1 {
		t.Errorf("Expected 1 TX fragment, got %d", stats.GetTxFragments())
	}
	if stats.GetTxTransfers() != 1 {
		t.Errorf("Expected 1 TX transfer, got %d", stats.GetTxTransfers())
	}
}

func TestSender_SendMultipleFragments(t *testing.T) {
	sender := NewSender(DefaultConfig(), nil, nil)

	payload := strings.Repeat("x", 150000)

	var frags []Fragment
	_, n, err := sender.SplitAndSend(context.Background(), payload, testPeer, collect(&frags))
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}

	// 61440 + 61440 + 27120 = 150000
	if n != 3 || len(frags) != 3 {
		t.Fatalf("Expected 3 fragments, got n=%d sent=%d", n, len(frags))
	}

	wantLens := []int{DefaultChunkSize, DefaultChunkSize, 150000 - 2*DefaultChunkSize}
	for i, frag := range frags {
		if frag.Index != i {
			t.Errorf("Fragment %d: emitted out of order with index %d", i, frag.Index)
		}
		if frag.Total != 3 {
			t.Errorf("Fragment %d: Expected total 3, got %d", i, frag.Total)
		}
		if len(frag.Data) != wantLens[i] {
			t.Errorf("Fragment %d: Expected %d bytes, got %d", i, wantLens[i], len(frag.Data))
		}
		if frag.TransferID != frags[0].TransferID {
			t.Errorf("Fragment %d: transfer ID changed", i)
		}
	}
}

func TestSender_EmptyPayload(t *testing.T) {
	sender := NewSender(DefaultConfig(), nil, nil)

	var frags []Fragment
	_, n, err := sender.SplitAndSend(context.Background(), "", testPeer, collect(&frags))
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}

	if n != 1 || len(frags) != 1 {
		t.Fatalf("Expected 1 fragment, got %d", len(frags))
	}
	if frags[0].Total != 1 || frags[0].Index != 0 || frags[0].Data != "" {
		t.Errorf("Expected empty 0/1 fragment, got %s", frags[0])
	}
}

func TestSender_SendFailureDoesNotStop(t *testing.T) {
	config := DefaultConfig()
	config.ChunkSize = 10
	sender := NewSender(config, nil, nil)

	var indices []int
	send := func(ctx context.Context, to types.PeerIdentity, frag Fragment) error {
		indices = append(indices, frag.Index)
		if frag.Index == 1 {
			return errors.New("transport rejected message")
		}
		return nil
	}

	_, n, err := sender.SplitAndSend(context.Background(), strings.Repeat("a", 35), testPeer, send)
	if err != nil {
		t.Fatalf("SplitAndSend failed: %v", err)
	}

	if n != 4 || len(indices) != 4 {
		t.Fatalf("Expected 4 send calls, got %v", indices)
	}
	for i, idx := range indices {
		if idx != i {
			t.Errorf("Send %d carried index %d", i, idx)
		}
	}
	if sender.Stats().GetSendErrors() != 1 {
		t.Errorf("Expected 1 send error, got %d", sender.Stats().GetSendErrors())
	}
	if sender.Stats().GetTxFragments() != 3 {
		t.Errorf("Expected 3 TX fragments, got %d", sender.Stats().GetTxFragments())
	}
}

func TestSender_PayloadTooLarge(t *testing.T) {
	config := DefaultConfig()
	config.ChunkSize = 4
	config.MaxFragments = 2
	sender := NewSender(config, nil, nil)

	calls := 0
	send := func(ctx context.Context, to types.PeerIdentity, frag Fragment) error {
		calls++
		return nil
	}

	_, _, err := sender.SplitAndSend(context.Background(), "123456789", testPeer, send)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Expected ErrPayloadTooLarge, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no fragments sent, got %d", calls)
	}
}

func TestSender_InvalidDestination(t *testing.T) {
	sender := NewSender(DefaultConfig(), nil, nil)

	var frags []Fragment
	_, _, err := sender.SplitAndSend(context.Background(), "abc", types.PeerIdentity{}, collect(&frags))
	if !errors.Is(err, types.ErrEmptyPeerID) {
		t.Fatalf("Expected ErrEmptyPeerID, got %v", err)
	}
}

func TestSender_FreshIDPerTransfer(t *testing.T) {
	sender := NewSender(DefaultConfig(), nil, nil)

	seq := 0
	sender.SetIDGenerator(func() string {
		seq++
		return strings.Repeat("i", seq)
	})

	var frags []Fragment
	id1, _, _ := sender.SplitAndSend(context.Background(), "one", testPeer, collect(&frags))
	id2, _, _ := sender.SplitAndSend(context.Background(), "two", testPeer, collect(&frags))

	if id1 == id2 {
		t.Errorf("Expected distinct transfer IDs, both %q", id1)
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		chunkSize int
		want      []string
	}{
		{"empty", "", 4, []string{""}},
		{"exact", "abcd", 4, []string{"abcd"}},
		{"one over", "abcde", 4, []string{"abcd", "e"}},
		{"several", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"rune boundary", "abcé", 4, []string{"abc", "é"}},
		{"four byte rune", "a\U0001F600b", 4, []string{"a", "\U0001F600", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.payload, tt.chunkSize)
			if err != nil {
				t.Fatalf("Split() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Split() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("slice %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
			if strings.Join(got, "") != tt.payload {
				t.Errorf("Join(Split()) != payload")
			}
		})
	}
}

func TestFragmentCount(t *testing.T) {
	tests := []struct {
		n, size, want int
	}{
		{0, 10, 1},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{150000, 60000, 3},
	}

	for _, tt := range tests {
		if got := FragmentCount(tt.n, tt.size); got != tt.want {
			t.Errorf("FragmentCount(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.want)
		}
	}
}

func TestSplit_RejectsChunkSmallerThanRune(t *testing.T) {
	for _, size := range []int{-1, 0, 1, MinChunkSize - 1} {
		if _, err := Split("\U0001F600", size); !errors.Is(err, ErrChunkTooSmall) {
			t.Errorf("Split(size=%d) error = %v, want ErrChunkTooSmall", size, err)
		}
	}

	config := DefaultConfig()
	config.ChunkSize = 2
	if err := config.Validate(); !errors.Is(err, ErrChunkTooSmall) {
		t.Errorf("Validate() error = %v, want ErrChunkTooSmall", err)
	}
}

func TestSender_RejectsInvalidUTF8(t *testing.T) {
	sender := NewSender(DefaultConfig(), nil, nil)

	var frags []Fragment
	_, n, err := sender.SplitAndSend(context.Background(), "ab\xffcd", testPeer, collect(&frags))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("Expected ErrInvalidPayload, got %v", err)
	}
	if n != 0 || len(frags) != 0 {
		t.Errorf("Expected nothing sent, got n=%d sent=%d", n, len(frags))
	}
}

func TestFragment_RejectsLongTransferID(t *testing.T) {
	frag := Fragment{TransferID: strings.Repeat("x", MaxTransferIDLength+1), Total: 1}
	if err := frag.Validate(0); !errors.Is(err, ErrMalformedFragment) {
		t.Errorf("Expected ErrMalformedFragment, got %v", err)
	}
}
