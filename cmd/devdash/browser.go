package main

import (
	"context"
	"net"
	"net/url"
	"runtime"
	"time"

	"github.com/loykin/devdash/internal/process"
)

const browserTimeout = 10 * time.Second

func (c command) openBrowser(ctx context.Context, u string) error {
	if c.browse != nil {
		return c.browse(ctx, u)
	}
	return process.Run(ctx, browserCommand(runtime.GOOS, u), nil, nil)
}

func browserCommand(goos, u string) process.Command {
	switch goos {
	case "darwin":
		return process.Command{Name: "open", Args: []string{u}}
	case "windows":
		return process.Command{Name: "rundll32", Args: []string{"url.dll,FileProtocolHandler", u}}
	default:
		return process.Command{Name: "xdg-open", Args: []string{u}}
	}
}

// dashboardURL is the address a local browser reaches the UI on. Wildcard
// hosts become localhost.
func dashboardURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		host, port = "localhost", ""
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	}
	return (&url.URL{Scheme: "http", Host: host, Path: "/"}).String()
}
