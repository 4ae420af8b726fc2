package sha256

import "testing"

func TestHasherKnownDigest(t *testing.T) {
	t.Parallel()

	got, err := New().Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if want := "b94d27b9934d3e08a52e52d7da7dabfa"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestHasherDistinguishesBodies(t *testing.T) {
	t.Parallel()

	h := New()
	processing, _ := h.Hash([]byte(`{"item_id":"a","status":"PROCESSING"}`))
	succeeded, _ := h.Hash([]byte(`{"item_id":"a","status":"SUCCEEDED"}`))
	again, _ := h.Hash([]byte(`{"item_id":"a","status":"SUCCEEDED"}`))
	if processing == succeeded {
		t.Fatal("expected different digests for different bodies")
	}
	if succeeded != again {
		t.Fatalf("expected deterministic digest, got %s vs %s", succeeded, again)
	}
}
