package archive

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const (
	helloMD5    = "5d41402abc4b2a76b9719d911017c592"
	helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	worldMD5    = "5eb63bbbe01eeed093cb22bb8f5acdc3"
)

// checkWorkspaceEmpty fails the test if any scoped working tree survived.
func checkWorkspaceEmpty(t *testing.T, workspace string) {
	t.Helper()
	entries, err := os.ReadDir(workspace)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("Working tree %s left behind in workspace", e.Name())
	}
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestProcessLocal(t *testing.T) {
	workspace := t.TempDir()
	srcDir := t.TempDir()
	outDir := t.TempDir()
	src := writeSource(t, srcDir, "in.txt", "hello")
	dest := filepath.Join(outDir, "bag.zip")

	a := New(workspace)
	result := a.Process(Request{
		InputFiles:  []InputFile{{Source: src, Path: "data.txt"}},
		Destination: dest,
	})
	if !result.Success {
		t.Fatalf("Process failed: %s", result.Error)
	}
	if result.Elapsed <= 0 {
		t.Errorf("Received elapsed %f, expected > 0", result.Elapsed)
	}
	digests := result.Entries["payload/data.txt"]
	if digests["md5"] != helloMD5 || digests["sha256"] != helloSHA256 {
		t.Errorf("Received digests %v", digests)
	}

	unpacked := readZip(t, dest)
	if unpacked["payload/data.txt"] != "hello" {
		t.Errorf("Zip payload entry = %q, expected %q", unpacked["payload/data.txt"], "hello")
	}
	if !strings.Contains(unpacked["manifest-md5.txt"], helloMD5+"  payload/data.txt") {
		t.Errorf("Received md5 manifest %q", unpacked["manifest-md5.txt"])
	}
	if !strings.Contains(unpacked["manifest-sha256.txt"], helloSHA256+"  payload/data.txt") {
		t.Errorf("Received sha256 manifest %q", unpacked["manifest-sha256.txt"])
	}
	for _, name := range []string{"bagit.txt", "bag-info.txt", "tagmanifest-md5.txt"} {
		if _, ok := unpacked[name]; !ok {
			t.Errorf("Zip is missing bag file %s", name)
		}
	}

	checkWorkspaceEmpty(t, workspace)
}

func TestProcessChecksumMismatch(t *testing.T) {
	workspace := t.TempDir()
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "in.txt", "hello")
	dest := filepath.Join(t.TempDir(), "bag.zip")

	a := New(workspace)
	result := a.Process(Request{
		InputFiles: []InputFile{{
			Source:    src,
			Path:      "data.txt",
			Checksums: map[string]string{"md5": strings.Replace(helloMD5, "5", "6", 1)},
		}},
		Destination: dest,
	})
	if result.Success {
		t.Fatal("Process succeeded, expected checksum failure")
	}
	if result.Kind != KindChecksum {
		t.Errorf("Received kind %q, expected %q", result.Kind, KindChecksum)
	}
	if !strings.Contains(result.Error, "Checksum mismatch for payload/data.txt") {
		t.Errorf("Received error %q", result.Error)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("Destination written despite checksum failure")
	}
	checkWorkspaceEmpty(t, workspace)
}

func TestProcessBadDestination(t *testing.T) {
	workspace := t.TempDir()
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "in.txt", "hello")
	// a regular file blocks the destination's parent directory
	block := writeSource(t, srcDir, "block", "x")

	a := New(workspace)
	result := a.Process(Request{
		InputFiles:  []InputFile{{Source: src, Path: "data.txt"}},
		Destination: filepath.Join(block, "sub", "bag.zip"),
	})
	if result.Success {
		t.Fatal("Process succeeded, expected delivery failure")
	}
	if result.Kind != KindTransfer {
		t.Errorf("Received kind %q, expected %q", result.Kind, KindTransfer)
	}
	// the bag was built before delivery failed, so the entries are present
	if len(result.Entries) != 1 {
		t.Errorf("Received %d entries, expected 1", len(result.Entries))
	}
	checkWorkspaceEmpty(t, workspace)
}

func TestProcessEmptyInput(t *testing.T) {
	workspace := t.TempDir()
	a := New(workspace)
	result := a.Process(Request{
		Destination: filepath.Join(t.TempDir(), "bag.zip"),
	})
	if result.Success {
		t.Fatal("Process succeeded, expected no-payload failure")
	}
	if result.Kind != KindManifest {
		t.Errorf("Received kind %q, expected %q", result.Kind, KindManifest)
	}
	if !strings.Contains(result.Error, "no payload") {
		t.Errorf("Received error %q", result.Error)
	}
	checkWorkspaceEmpty(t, workspace)
}

func TestProcessBadAlgorithmFailsFast(t *testing.T) {
	workspace := t.TempDir()
	a := New(workspace)
	// the source does not exist. If the algorithm check ran after
	// acquisition this would fail with a transfer error instead.
	result := a.Process(Request{
		InputFiles:  []InputFile{{Source: "/no/such/file", Path: "data.txt"}},
		Destination: filepath.Join(t.TempDir(), "bag.zip"),
		Algorithms:  []string{"md5", "whirlpool"},
	})
	if result.Success {
		t.Fatal("Process succeeded, expected algorithm failure")
	}
	if result.Kind != KindManifest {
		t.Errorf("Received kind %q, expected %q", result.Kind, KindManifest)
	}
	if !strings.Contains(result.Error, "whirlpool") {
		t.Errorf("Received error %q", result.Error)
	}
	checkWorkspaceEmpty(t, workspace)
}

func TestProcessPathEscape(t *testing.T) {
	workspace := t.TempDir()
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "in.txt", "hello")

	a := New(workspace)
	for _, bad := range []string{"../escape.txt", "/abs.txt", "a/../../b.txt", ""} {
		result := a.Process(Request{
			InputFiles:  []InputFile{{Source: src, Path: bad}},
			Destination: filepath.Join(t.TempDir(), "bag.zip"),
		})
		if result.Success {
			t.Errorf("Process accepted relative path %q", bad)
		}
	}
	checkWorkspaceEmpty(t, workspace)
}

func TestProcessNoWorkspace(t *testing.T) {
	a := &Archiver{}
	result := a.Process(Request{})
	if result.Success {
		t.Fatal("Process succeeded without a workspace")
	}
	if result.Kind != KindConfiguration {
		t.Errorf("Received kind %q, expected %q", result.Kind, KindConfiguration)
	}
}

func TestProcessConcurrent(t *testing.T) {
	workspace := t.TempDir()
	srcDir := t.TempDir()
	outDir := t.TempDir()
	sources := []string{
		writeSource(t, srcDir, "one.txt", "hello"),
		writeSource(t, srcDir, "two.txt", "hello world"),
	}
	wantMD5 := []string{helloMD5, worldMD5}

	a := New(workspace)
	results := make([]Result, len(sources))
	var wg sync.WaitGroup
	for i := range sources {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.Process(Request{
				InputFiles:  []InputFile{{Source: sources[i], Path: "data.txt"}},
				Destination: filepath.Join(outDir, filepath.Base(sources[i])+".zip"),
			})
		}(i)
	}
	wg.Wait()

	for i, result := range results {
		if !result.Success {
			t.Fatalf("Invocation %d failed: %s", i, result.Error)
		}
		if len(result.Entries) != 1 {
			t.Errorf("Invocation %d has %d entries, expected 1", i, len(result.Entries))
		}
		if got := result.Entries["payload/data.txt"]["md5"]; got != wantMD5[i] {
			t.Errorf("Invocation %d received md5 %s, expected %s", i, got, wantMD5[i])
		}
	}
	checkWorkspaceEmpty(t, workspace)
}

func TestPayloadPath(t *testing.T) {
	var table = []struct {
		input string
		want  string
		bad   bool
	}{
		{input: "a.txt", want: "a.txt"},
		{input: "sub/a.txt", want: "sub/a.txt"},
		{input: "sub//a.txt", want: "sub/a.txt"},
		{input: "./a.txt", want: "a.txt"},
		{input: "", bad: true},
		{input: "/abs.txt", bad: true},
		{input: "..", bad: true},
		{input: "../a.txt", bad: true},
		{input: "a/../../b.txt", bad: true},
	}
	for _, test := range table {
		got, err := payloadPath(test.input)
		if test.bad {
			if err == nil {
				t.Errorf("payloadPath(%q) succeeded, expected error", test.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("payloadPath(%q) returned %v", test.input, err)
		} else if got != test.want {
			t.Errorf("payloadPath(%q) = %q, expected %q", test.input, got, test.want)
		}
	}
}
