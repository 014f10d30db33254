package main

import "flag"

// Options holds CLI options for the echo node.
type Options struct {
	ConfigPath string
	Listen     string
	Peer       string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("netsync-echo", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Listen, "listen", "", "Bind address override for the udp transport (host:port)")
	fs.StringVar(&opts.Peer, "peer", "", "Peer address to connect to; empty runs an accept-only echo server")
	_ = fs.Parse(args)
	return opts
}
