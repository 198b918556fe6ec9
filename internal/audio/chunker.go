package audio

// Chunker regroups an arbitrary stream of samples into fixed-size blocks.
// Leftover samples are held until the next call.
type Chunker struct {
	blockSize int
	pending   []float32
}

// NewChunker creates a chunker that emits blocks of blockSize samples
func NewChunker(blockSize int) *Chunker {
	if blockSize <= 0 {
		blockSize = 1
	}
	return &Chunker{
		blockSize: blockSize,
		pending:   make([]float32, 0, blockSize),
	}
}

// BlockSize returns the number of samples per emitted block
func (c *Chunker) BlockSize() int {
	return c.blockSize
}

// Process appends samples and returns every complete block. Returned blocks
// are freshly allocated and safe to retain.
func (c *Chunker) Process(samples []float32) [][]float32 {
	var blocks [][]float32

	for len(samples) > 0 {
		need := c.blockSize - len(c.pending)
		if need > len(samples) {
			need = len(samples)
		}
		c.pending = append(c.pending, samples[:need]...)
		samples = samples[need:]

		if len(c.pending) == c.blockSize {
			block := make([]float32, c.blockSize)
			copy(block, c.pending)
			blocks = append(blocks, block)
			c.pending = c.pending[:0]
		}
	}

	return blocks
}

// Pending returns the number of buffered samples not yet emitted
func (c *Chunker) Pending() int {
	return len(c.pending)
}

// Reset drops any buffered samples
func (c *Chunker) Reset() {
	c.pending = c.pending[:0]
}
