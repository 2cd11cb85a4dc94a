package cryptoutil

import (
	"testing"

	"golang.org/x/crypto/sha3"
)

func TestSignThenRecoverYieldsSameAddress(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	wantAddr := Address(priv.PubKey())

	msg := sha3.Sum256([]byte("hello posnode"))
	sig := Sign(priv, msg)

	gotAddr, err := RecoverAddress(msg, sig)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if gotAddr != wantAddr {
		t.Errorf("recovered address = %s, want %s", gotAddr, wantAddr)
	}
}

func TestRecoverSameSignerAcrossMessages(t *testing.T) {
	priv, _ := GeneratePrivateKey()
	msg1 := sha3.Sum256([]byte("message one"))
	msg2 := sha3.Sum256([]byte("message two"))
	sig := Sign(priv, msg1)

	// Signatures by one key over two different messages must each
	// recover, against their own message, to that same signer.
	otherSig := Sign(priv, msg2)
	addrFromMsg1, _ := RecoverAddress(msg1, sig)
	addrFromMsg2, _ := RecoverAddress(msg2, otherSig)
	if addrFromMsg1 != addrFromMsg2 {
		t.Error("same signer should derive the same address regardless of message")
	}
}

func TestAddressIsUppercaseHex(t *testing.T) {
	priv, _ := GeneratePrivateKey()
	addr := Address(priv.PubKey())
	s := addr.String()
	if len(s) != 40 {
		t.Fatalf("address string length = %d, want 40", len(s))
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'F') {
			t.Errorf("address %q is not uppercase hex", s)
			break
		}
	}
}
