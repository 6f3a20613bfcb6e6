package host

import "testing"

func TestMemFileStoreRoundTrip(t *testing.T) {
	fs := NewMemFileStore()
	fs.Add("/src/app.ts", "content")

	data, err := fs.ReadFile("/src/app.ts")
	if err != nil || string(data) != "content" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	// Leading slash is optional.
	if _, err := fs.ReadFile("src/app.ts"); err != nil {
		t.Errorf("normalized read failed: %v", err)
	}
	if _, err := fs.ReadFile("/nope.ts"); err == nil {
		t.Errorf("missing file should fail")
	}

	if err := fs.WriteFile("/out/result.json", []byte("{}")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if data, _ := fs.ReadFile("/out/result.json"); string(data) != "{}" {
		t.Errorf("written file reads back %q", data)
	}
}

func TestMemFileStoreImplicitDirectories(t *testing.T) {
	fs := NewMemFileStore()
	fs.Add("/a/b/c.ts", "x")

	info, err := fs.Stat("/a/b")
	if err != nil || !info.IsDir {
		t.Fatalf("Stat(/a/b) = %+v, %v, want implicit directory", info, err)
	}
	info, err = fs.Stat("/a/b/c.ts")
	if err != nil || info.IsDir || info.Size != 1 {
		t.Errorf("Stat(/a/b/c.ts) = %+v, %v", info, err)
	}

	entries, err := fs.ReadDir("/a")
	if err != nil || len(entries) != 1 || entries[0].Name != "b" || !entries[0].IsDir {
		t.Errorf("ReadDir(/a) = %+v, %v", entries, err)
	}
}
