package tokenizer

import "testing"

func TestByteTokenizerRoundTrip(t *testing.T) {
	tok := NewByteTokenizer()
	text := "hello, world!"

	ids, err := tok.Encode(text)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != text {
		t.Fatalf("round trip = %q, want %q", got, text)
	}
}

func TestByteTokenizerEOSIDOutsideByteRange(t *testing.T) {
	tok := NewByteTokenizer()
	if tok.EOSID() <= 255 {
		t.Fatalf("EOSID = %d, want > 255 so it can never collide with a byte value", tok.EOSID())
	}
}

func TestByteTokenizerDecodeIgnoresOutOfRangeIDs(t *testing.T) {
	tok := NewByteTokenizer()
	got, err := tok.Decode([]int{104, 105, tok.EOSID(), -1, 300})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "hi" {
		t.Fatalf("Decode = %q, want %q", got, "hi")
	}
}
