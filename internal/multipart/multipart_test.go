package multipart

import "testing"

func TestProgressSignature(t *testing.T) {
	m := &Machine{SignSecret: []byte("progress-secret")}

	sig := m.sign(1024)
	if !m.verify(1024, sig) {
		t.Fatal("freshly signed progress failed verification")
	}

	t.Run("stale progress rejected", func(t *testing.T) {
		if m.verify(2048, sig) {
			t.Fatal("signature for 1024 verified against 2048")
		}
	})

	t.Run("tampered signature rejected", func(t *testing.T) {
		tampered := "0" + sig[1:]
		if m.verify(1024, tampered) {
			t.Fatal("tampered signature verified")
		}
	})

	t.Run("different secret rejected", func(t *testing.T) {
		other := &Machine{SignSecret: []byte("other-secret")}
		if other.verify(1024, sig) {
			t.Fatal("signature verified under a different secret")
		}
	})

	t.Run("zero progress signs and verifies", func(t *testing.T) {
		if !m.verify(0, m.sign(0)) {
			t.Fatal("zero progress failed")
		}
	})
}
