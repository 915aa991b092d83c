package compress

import "sync"

// Trainer accumulates a sample of recent response bodies per continuation
// and, once enough samples have been seen, produces a raw-content zstd
// dictionary for that continuation.
type Trainer struct {
	mu         sync.Mutex
	sampleSize int
	maxDictLen int
	samples    map[string][][]byte
}

// NewTrainer builds a Trainer that retrains once sampleSize bodies have
// accumulated for a continuation, capping dictionary size at maxDictLen.
func NewTrainer(sampleSize, maxDictLen int) *Trainer {
	if sampleSize <= 0 {
		sampleSize = 32
	}
	if maxDictLen <= 0 {
		maxDictLen = 64 * 1024
	}
	return &Trainer{
		sampleSize: sampleSize,
		maxDictLen: maxDictLen,
		samples:    make(map[string][][]byte),
	}
}

// Observe records a body for continuation. It returns a non-nil
// dictionary exactly once sampleSize bodies have accumulated since the
// last training round for that continuation.
func (t *Trainer) Observe(continuation string, body []byte) (dict []byte, sampleCount int, trained bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(body) == 0 {
		return nil, len(t.samples[continuation]), false
	}
	t.samples[continuation] = append(t.samples[continuation], body)
	bucket := t.samples[continuation]
	if len(bucket) < t.sampleSize {
		return nil, len(bucket), false
	}

	dict = t.buildRawContentDict(bucket)
	delete(t.samples, continuation)
	return dict, len(bucket), true
}

// buildRawContentDict concatenates representative prefixes of the sample
// set into a single raw-content dictionary body, most-recent-last (zstd
// favors dictionary content closest to the end of the buffer as the
// match window).
func (t *Trainer) buildRawContentDict(samples [][]byte) []byte {
	perSample := t.maxDictLen / len(samples)
	if perSample < 64 {
		perSample = 64
	}
	out := make([]byte, 0, t.maxDictLen)
	for _, s := range samples {
		chunk := s
		if len(chunk) > perSample {
			chunk = chunk[:perSample]
		}
		out = append(out, chunk...)
		if len(out) >= t.maxDictLen {
			break
		}
	}
	if len(out) > t.maxDictLen {
		out = out[:t.maxDictLen]
	}
	return out
}
