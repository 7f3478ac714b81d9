// Package tokenizer defines the contract the decode controller and
// session layer consume: Encode, Decode, and the end-of-sequence token
// id. A full BPE/SentencePiece implementation is an external
// collaborator this repository does not own; ByteTokenizer below is a
// minimal byte-level implementation satisfying the contract for tests
// and the CLI tools.
package tokenizer

// Tokenizer defines the minimal interface the engine consumes. A real
// deployment wires in a BPE or SentencePiece vocabulary loaded from the
// model's tokenizer section; that implementation lives outside this
// repository.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	EOSID() int
}

// ByteTokenizer maps each byte of UTF-8 input to its own token id
// (0-255), with a fixed end-of-sequence id at 256. It round-trips any
// input exactly, which makes it useful for tests and for the CLI tools
// that don't need a learned vocabulary.
type ByteTokenizer struct{}

const byteVocabEOS = 256

// NewByteTokenizer returns a Tokenizer with a 257-entry vocabulary: one
// id per byte value plus a terminator.
func NewByteTokenizer() ByteTokenizer {
	return ByteTokenizer{}
}

func (ByteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids, nil
}

func (ByteTokenizer) Decode(ids []int) (string, error) {
	buf := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id > 255 {
			continue
		}
		buf = append(buf, byte(id))
	}
	return string(buf), nil
}

func (ByteTokenizer) EOSID() int {
	return byteVocabEOS
}

// VocabSize returns the number of distinct ids ByteTokenizer can produce
// or consume, including the terminator.
func (ByteTokenizer) VocabSize() int {
	return byteVocabEOS + 1
}
