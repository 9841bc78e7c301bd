package kvm_test

import (
	"testing"

	"github.com/kvikdos/kvikdos/kvm"
)

func TestCapabilityStringer(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name  string
		value kvm.Capability
		want  string
	}{
		{name: "UserMemory", value: kvm.CapUserMemory, want: "CapUserMemory"},
		{name: "NRMemSlots", value: kvm.CapNRMemSlots, want: "CapNRMemSlots"},
		{name: "ImmediateExit", value: kvm.CapImmediateExit, want: "CapImmediateExit"},
		{name: "Unknown", value: kvm.Capability(255), want: "Capability(255)"},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if have := test.value.String(); have != test.want {
				t.Errorf("have: %s, want: %s", have, test.want)
			}
		})
	}
}
