package compress

import "testing"

func TestCompressDecompressRoundTripNoDict(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer r.Close()

	body := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly, repeatedly")
	compressed, err := r.Compress(body, nil)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := r.Decompress(compressed, nil)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !equalAfterRoundTrip(got, body) {
		t.Fatalf("round trip mismatch: got %q want %q", got, body)
	}
}

func TestCompressDecompressRoundTripWithDict(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer r.Close()

	dict := []byte("<html><body><div class=\"listing\">common boilerplate shared across pages</div></body></html>")
	if err := r.RegisterDict(1, dict); err != nil {
		t.Fatalf("RegisterDict: %v", err)
	}

	body := []byte("<html><body><div class=\"listing\">common boilerplate shared across pages</div><p>unique content</p></body></html>")
	id := int64(1)
	compressed, err := r.Compress(body, &id)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := r.Decompress(compressed, &id)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !equalAfterRoundTrip(got, body) {
		t.Fatalf("round trip mismatch: got %q want %q", got, body)
	}
}

func TestTrainerTriggersAfterSampleSize(t *testing.T) {
	tr := NewTrainer(3, 1024)
	for i := 0; i < 2; i++ {
		if _, _, trained := tr.Observe("list_page", []byte("sample body")); trained {
			t.Fatalf("expected no training before sample size reached, iter %d", i)
		}
	}
	dict, count, trained := tr.Observe("list_page", []byte("sample body"))
	if !trained || len(dict) == 0 || count != 3 {
		t.Fatalf("expected training on 3rd sample, got trained=%v len=%d count=%d", trained, len(dict), count)
	}
}
