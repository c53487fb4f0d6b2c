package cgroups

import "testing"

func TestCPUWeightClamp(t *testing.T) {
	cases := []struct {
		shares uint64
		want   uint64
	}{
		{shares: 2, want: 1},
		{shares: 1024, want: 39},
		{shares: 262144, want: 10000},
	}
	for _, c := range cases {
		if got := cpuWeight(c.shares); got != c.want {
			t.Errorf("cpuWeight(%d) = %d, want %d", c.shares, got, c.want)
		}
	}
}

func TestRequiredControllersEmptyResources(t *testing.T) {
	b := requiredControllers(nil)
	if b.Count() != 0 {
		t.Fatalf("requiredControllers(nil) has %d bits set, want 0", b.Count())
	}
}

func TestPathFallsBackToPidName(t *testing.T) {
	got := Path(123, "")
	want := "/sys/fs/cgroup/kontainer-123"
	if got != want {
		t.Fatalf("Path = %q, want %q", got, want)
	}
}

func TestPathUsesConfigured(t *testing.T) {
	got := Path(123, "mygroup")
	want := "/sys/fs/cgroup/mygroup"
	if got != want {
		t.Fatalf("Path = %q, want %q", got, want)
	}
}
