package util

import (
	"bytes"
	"strings"
	"testing"
)

const (
	helloMD5    = "5d41402abc4b2a76b9719d911017c592"
	helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
)

func TestHashWriter(t *testing.T) {
	var out bytes.Buffer
	hw, err := NewHashWriter(&out, "md5", "sha256")
	if err != nil {
		t.Fatal(err)
	}
	hw.Write([]byte("hello"))
	if out.String() != "hello" {
		t.Errorf("Received %q, expected %q", out.String(), "hello")
	}
	if h := hw.Hex("md5"); h != helloMD5 {
		t.Errorf("Received md5 %s, expected %s", h, helloMD5)
	}
	if h := hw.Hex("sha256"); h != helloSHA256 {
		t.Errorf("Received sha256 %s, expected %s", h, helloSHA256)
	}
	if hw.Sum("sha512") != nil {
		t.Errorf("Received digest for algorithm that was not requested")
	}
}

func TestHashWriterUnknownAlgorithm(t *testing.T) {
	_, err := NewHashWriter(nil, "crc321")
	if err == nil {
		t.Fatal("Expected error for unknown algorithm, got nil")
	}
}

func TestDigestReader(t *testing.T) {
	digests, n, err := DigestReader(strings.NewReader("hello"), []string{"md5", "sha256"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("Received %d bytes, expected 5", n)
	}
	if digests["md5"] != helloMD5 {
		t.Errorf("Received md5 %s, expected %s", digests["md5"], helloMD5)
	}
	if digests["sha256"] != helloSHA256 {
		t.Errorf("Received sha256 %s, expected %s", digests["sha256"], helloSHA256)
	}
}

func TestValidAlgorithm(t *testing.T) {
	var table = []struct {
		name string
		ok   bool
	}{
		{"md5", true},
		{"sha1", true},
		{"sha256", true},
		{"sha512", true},
		{"", false},
		{"MD5", false},
		{"sha384", false},
	}
	for _, test := range table {
		if ValidAlgorithm(test.name) != test.ok {
			t.Errorf("ValidAlgorithm(%q) != %v", test.name, test.ok)
		}
	}
}
