package identity

import (
	"strings"
	"testing"
)

func TestGenerateMnemonicProducesValid24Words(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if got := len(strings.Fields(mnemonic)); got != 24 {
		t.Fatalf("expected 24 words, got %d", got)
	}
	if !ValidateMnemonic(mnemonic) {
		t.Fatal("generated mnemonic should validate")
	}
}

func TestValidateMnemonicRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"abandon",
		// Valid 12-word phrase; only 24 words are accepted here.
		"legal winner thank year wave sausage worth useful legal winner thank yellow",
		// Checksum broken: last word swapped.
		strings.Replace(testMnemonic, " art", " abandon", 1),
		"zzzz " + testMnemonic[len("abandon "):],
	}
	for _, m := range cases {
		if ValidateMnemonic(m) {
			t.Fatalf("expected %q to be rejected", m)
		}
	}
}

func TestValidateMnemonicAcceptsMessyWhitespace(t *testing.T) {
	messy := "\t" + strings.ReplaceAll(testMnemonic, " ", "  ") + " \n"
	if !ValidateMnemonic(messy) {
		t.Fatal("normalized mnemonic should validate")
	}
	if !ValidateMnemonic(strings.ToUpper(testMnemonic)) {
		t.Fatal("uppercase mnemonic should validate after normalization")
	}
}
