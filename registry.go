package pn53x

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dotside-studios/pn53x/transport"
)

// driverRegistry is the single, read-only-after-init driver registry. It is
// populated once by RegisterDriver during program initialization (normally
// from each transport subpackage's init, mirroring the spec's "no global
// mutable state beyond the read-only driver registry" note) and never
// mutated afterward.
var driverRegistry = transport.NewRegistry()

// RegisterDriver adds d to the global driver registry. Transport
// subpackages call this from an init() func when imported for their
// side effect, the way the teacher's manager implementations register
// themselves with the multimanager.
func RegisterDriver(d transport.Driver) {
	all := append(driverRegistry.All(), d)
	driverRegistry = transport.NewRegistry(all...)
}

// ProbeAll asks every registered driver to enumerate candidate connection
// strings concurrently, returning the union of all results. A driver that
// errors (e.g. because its backing library is unavailable, such as PC/SC
// on a host with no smart-card service) is skipped rather than failing the
// whole probe.
func ProbeAll(ctx context.Context) ([]string, error) {
	drivers := driverRegistry.All()
	results := make([][]string, len(drivers))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range drivers {
		i, d := i, d
		g.Go(func() error {
			found, err := d.Probe(gctx)
			if err != nil {
				return nil
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []string
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// lookupDriver resolves a connection-string driver tag against the global
// registry.
func lookupDriver(tag string) (transport.Driver, error) {
	d, ok := driverRegistry.Lookup(tag)
	if !ok {
		return nil, newError(NoDevice, "Open", fmt.Errorf("no driver registered for %q", tag))
	}
	return d, nil
}
