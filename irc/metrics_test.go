// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import "testing"

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	m := NewMetrics()
	// a CounterVec with no children is not gathered; create one label child
	m.CommandsTotal.WithLabelValues("PRIVMSG")
	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	if len(families) != 4 {
		t.Errorf("got %d metric families, want 4", len(families))
	}
}

func TestMetricsCountersAreUsable(t *testing.T) {
	m := NewMetrics()
	m.ConnectionsTotal.Inc()
	m.ClientsCurrent.Inc()
	m.ClientsCurrent.Dec()
	m.CommandsTotal.WithLabelValues("PRIVMSG").Inc()
	m.FederationLinks.Inc()

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family after recording samples")
	}
}
