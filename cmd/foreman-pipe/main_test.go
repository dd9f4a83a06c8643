package main

import "testing"

func TestForemanBinaryPathFallsBackWhenNoSiblingBinary(t *testing.T) {
	if got := foremanBinaryPath(); got == "" {
		t.Error("foremanBinaryPath() should never return an empty string")
	}
}

func TestWatchedDirsReturnsBundleRoots(t *testing.T) {
	b := &bundle{roots: []string{"/a/defects", "/a/features", "/a/analysis"}}
	got := watchedDirs(b)
	if len(got) != 3 || got[0] != "/a/defects" {
		t.Errorf("watchedDirs() = %v, want bundle.roots passed through", got)
	}
}
