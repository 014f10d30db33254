package main

import "testing"

func TestParseFlags(t *testing.T) {
	opts := ParseFlags([]string{
		"-config", "netsync.yaml",
		"-listen", "0.0.0.0:7777",
		"-peer", "10.0.0.2:7777",
	})
	if opts.ConfigPath != "netsync.yaml" {
		t.Fatalf("config = %q", opts.ConfigPath)
	}
	if opts.Listen != "0.0.0.0:7777" {
		t.Fatalf("listen = %q", opts.Listen)
	}
	if opts.Peer != "10.0.0.2:7777" {
		t.Fatalf("peer = %q", opts.Peer)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	opts := ParseFlags(nil)
	if opts.ConfigPath != "" || opts.Listen != "" || opts.Peer != "" {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}
