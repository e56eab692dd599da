package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/loykin/devdash"
	"github.com/loykin/devdash/pkg/client"
)

// command carries the writers shared by every handler.
type command struct {
	out    io.Writer
	errOut io.Writer
	// browse opens a URL for serve --open; nil uses the platform opener.
	browse func(ctx context.Context, url string) error
}

// apiClient returns a client for the daemon selected by f, failing early when
// it does not answer.
func (c command) apiClient(ctx context.Context, f APIFlags) (*client.Client, error) {
	cl := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable - please start it first with 'devdash serve'")
	}
	return cl, nil
}

// Scan lists units straight from disk.
func (c command) Scan(f ScanFlags) error {
	cfg, err := devdash.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	d, err := devdash.New(cfg, nil)
	if err != nil {
		return err
	}
	var units []devdash.Unit
	if f.Layout == "" {
		units, err = d.ListUnits()
	} else {
		units, err = d.ListUnitsIn(devdash.Layout(f.Layout))
	}
	if err != nil {
		return err
	}
	printJSON(c.out, units)
	return nil
}

func (c command) Units(ctx context.Context, f UnitsFlags) error {
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	var units []client.Unit
	switch f.Layout {
	case "":
		units, err = cl.Units(ctx)
	case string(devdash.LayoutCategories):
		units, err = cl.Modules(ctx)
	case string(devdash.LayoutApps):
		units, err = cl.Apps(ctx)
	default:
		return fmt.Errorf("unknown layout %q", f.Layout)
	}
	if err != nil {
		return err
	}
	printJSON(c.out, units)
	return nil
}

func (c command) Ps(ctx context.Context, f APIFlags) error {
	cl, err := c.apiClient(ctx, f)
	if err != nil {
		return err
	}
	running, err := cl.Running(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, running)
	return nil
}

func (c command) Run(ctx context.Context, f ScriptFlags) error {
	req, err := scriptRequest(f)
	if err != nil {
		return err
	}
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	resp, err := cl.RunScript(ctx, req)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, resp.Message)
	return nil
}

func (c command) Stop(ctx context.Context, f ScriptFlags) error {
	req, err := scriptRequest(f)
	if err != nil {
		return err
	}
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	resp, err := cl.StopScript(ctx, req)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, resp.Message)
	return nil
}

func (c command) Install(ctx context.Context, f BatchFlags) error {
	return c.batch(ctx, f, (*client.Client).Install)
}

func (c command) Link(ctx context.Context, f BatchFlags) error {
	return c.batch(ctx, f, (*client.Client).Link)
}

func (c command) batch(ctx context.Context, f BatchFlags, op func(*client.Client, context.Context, []string) (client.BatchResponse, error)) error {
	paths, err := absPaths(f.Paths)
	if err != nil {
		return err
	}
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	resp, err := op(cl, ctx, paths)
	if err != nil {
		return err
	}
	printJSON(c.out, resp.Results)
	failed := 0
	for _, r := range resp.Results {
		if r.Status != "success" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d directories failed", failed, len(resp.Results))
	}
	return nil
}

// Events prints each event as one JSON line until ctx is done or Count
// events were seen.
func (c command) Events(ctx context.Context, f EventsFlags) error {
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	seen := 0
	err = cl.Events(ctx, func(e client.Event) bool {
		printJSONLine(c.out, e)
		seen++
		return f.Count <= 0 || seen < f.Count
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func scriptRequest(f ScriptFlags) (client.ScriptRequest, error) {
	if f.Unit == "" || f.Script == "" {
		return client.ScriptRequest{}, fmt.Errorf("unit and script are required")
	}
	unit, err := filepath.Abs(f.Unit)
	if err != nil {
		return client.ScriptRequest{}, err
	}
	return client.ScriptRequest{ModulePath: unit, Script: f.Script}, nil
}

func absPaths(in []string) ([]string, error) {
	out := make([]string, len(in))
	for i, p := range in {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out[i] = abs
	}
	return out, nil
}
