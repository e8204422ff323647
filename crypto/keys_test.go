package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	if addr.Prefix() != SocPrefix {
		t.Fatalf("expected prefix %q, got %q", SocPrefix, addr.Prefix())
	}
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(SocPrefix)+"1") {
		t.Fatalf("unexpected bech32 rendering: %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), addr.Bytes()) {
		t.Fatalf("round trip mismatch: %x != %x", decoded.Bytes(), addr.Bytes())
	}
}

func TestParseAddressAcceptsHexAndBech32(t *testing.T) {
	raw := [AddressLength]byte{0x01, 0x02, 0x03}
	encoded := FormatAddress(raw)

	fromBech, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if fromBech != raw {
		t.Fatalf("bech32 parse mismatch")
	}

	fromHex, err := ParseAddress("0x0102030000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if fromHex != raw {
		t.Fatalf("hex parse mismatch")
	}

	if _, err := ParseAddress(""); err == nil {
		t.Fatalf("expected error for empty address")
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected error for short hex address")
	}
}

func TestPrivateKeyFromBytes(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if restored.PubKey().Address().String() != key.PubKey().Address().String() {
		t.Fatalf("restored key derives different address")
	}
}
