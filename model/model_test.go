package model

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeChecker map[string]bool

func (f fakeChecker) HasCredentials(_ context.Context, providerID string) bool {
	return f[providerID]
}

func testRegistry(t *testing.T, available ...string) *Registry {
	t.Helper()
	reg, err := NewRegistry(
		Descriptor{ID: "a", ProviderID: "p1", Capability: CapabilitySimple, RateLimitPerMinute: 10, ContextWindow: 8_000},
		Descriptor{ID: "b", ProviderID: "p1", Capability: CapabilityMedium, RateLimitPerMinute: 10, ContextWindow: 32_000},
		Descriptor{ID: "c", ProviderID: "p2", Capability: CapabilityComplex, RateLimitPerMinute: 5, ContextWindow: 1_000_000},
		Descriptor{ID: "d", ProviderID: "p2", Capability: CapabilityComplex, RateLimitPerMinute: 5, ContextWindow: 16_000},
		Descriptor{ID: "e", ProviderID: "p3", Capability: CapabilityComplex, RateLimitPerMinute: 5},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	for _, id := range available {
		if err := reg.SetAvailable(id, true); err != nil {
			t.Fatalf("SetAvailable(%s): %v", id, err)
		}
	}
	return reg
}

func ids(ds []Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

func TestCapabilityString(t *testing.T) {
	tests := []struct {
		c        Capability
		expected string
	}{
		{CapabilitySimple, "simple"},
		{CapabilityMedium, "medium"},
		{CapabilityComplex, "complex"},
		{Capability(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.c.String(); got != tt.expected {
				t.Errorf("Capability(%d).String() = %s, want %s", tt.c, got, tt.expected)
			}
			if tt.expected == "unknown" {
				return
			}
			var back Capability
			if err := back.UnmarshalText([]byte(tt.expected)); err != nil || back != tt.c {
				t.Errorf("UnmarshalText(%s) = %v, %v", tt.expected, back, err)
			}
		})
	}
}

func TestParseTaskType(t *testing.T) {
	for _, task := range AllTaskTypes() {
		got, err := ParseTaskType(" " + string(task) + " ")
		if err != nil || got != task {
			t.Errorf("ParseTaskType(%s) = %s, %v", task, got, err)
		}
	}
	if _, err := ParseTaskType("astrology"); err == nil {
		t.Error("expected error for unknown task type")
	}
}

func TestProviderForModel(t *testing.T) {
	tests := []struct {
		id       string
		expected string
	}{
		{"gemini-2.5-flash", ProviderGemini},
		{"claude-sonnet-4-20250514", ProviderAnthropic},
		{"gpt-4o-mini", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"llama3", ""},
	}
	for _, tt := range tests {
		if got := ProviderForModel(tt.id); got != tt.expected {
			t.Errorf("ProviderForModel(%s) = %q, want %q", tt.id, got, tt.expected)
		}
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		Descriptor{ID: "x", ProviderID: "p"},
		Descriptor{ID: "x", ProviderID: "p"},
	)
	if !errors.Is(err, ErrDuplicateModel) {
		t.Errorf("err = %v, want ErrDuplicateModel", err)
	}

	if _, err := NewRegistry(Descriptor{ID: "x"}); err == nil {
		t.Error("expected error for missing provider")
	}
}

func TestProbe(t *testing.T) {
	reg := testRegistry(t)
	n := reg.Probe(context.Background(), fakeChecker{"p2": true})
	if n != 2 {
		t.Errorf("Probe() = %d, want 2", n)
	}
	if got := ids(reg.Available()); !reflect.DeepEqual(got, []string{"c", "d"}) {
		t.Errorf("Available() = %v", got)
	}
	if reg.IsAvailable("a") {
		t.Error("a should be unavailable")
	}
	if err := reg.SetAvailable("zzz", true); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("SetAvailable(zzz) = %v", err)
	}
}

func TestRulesValidate(t *testing.T) {
	reg := testRegistry(t)

	full := Rules{}
	for _, task := range AllTaskTypes() {
		full[task] = TaskRule{Task: task, PreferredModel: "a", FallbackModels: []string{"b"}}
	}
	if err := full.Validate(reg); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	t.Run("missing task", func(t *testing.T) {
		rs := Rules{}
		for k, v := range full {
			rs[k] = v
		}
		delete(rs, TaskJSONRepair)
		if err := rs.Validate(reg); !errors.Is(err, ErrInvalidRules) {
			t.Errorf("Validate() = %v, want ErrInvalidRules", err)
		}
	})

	t.Run("unknown model", func(t *testing.T) {
		rs := Rules{}
		for k, v := range full {
			rs[k] = v
		}
		rs[TaskDecision] = TaskRule{PreferredModel: "a", FallbackModels: []string{"ghost"}}
		err := rs.Validate(reg)
		if !errors.Is(err, ErrUnknownModel) {
			t.Errorf("Validate() = %v, want ErrUnknownModel", err)
		}
	})
}

func TestDefaultsAreConsistent(t *testing.T) {
	reg, err := NewRegistry(DefaultDescriptors()...)
	if err != nil {
		t.Fatalf("NewRegistry(defaults): %v", err)
	}
	if err := DefaultRules().Validate(reg); err != nil {
		t.Errorf("DefaultRules().Validate() = %v", err)
	}
	for _, d := range reg.All() {
		if d.Available {
			t.Errorf("%s starts available before probing", d.ID)
		}
	}
}

func TestSelect(t *testing.T) {
	rules := Rules{
		TaskQueryRewriting: {PreferredModel: "a", FallbackModels: []string{"b", "c"}, MaxContextLength: 10_000},
	}

	tests := []struct {
		name      string
		available []string
		ctxLen    int
		expected  []string
	}{
		{"preferred first", []string{"a", "b", "c"}, 0, []string{"a", "b", "c"}},
		{"skips unavailable", []string{"b", "c"}, 0, []string{"b", "c"}},
		{"long context prefers complex in chain", []string{"a", "b", "c"}, 50_000, []string{"c", "a", "b"}},
		{"long context pulls in outside complex", []string{"a", "e"}, 50_000, []string{"e", "a"}},
		{"window too small", []string{"a", "d"}, 50_000, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := testRegistry(t, tt.available...)
			got, err := reg.Select(rules, TaskQueryRewriting, tt.ctxLen)
			if err != nil {
				t.Fatalf("Select() = %v", err)
			}
			if !reflect.DeepEqual(ids(got), tt.expected) {
				t.Errorf("Select() = %v, want %v", ids(got), tt.expected)
			}
		})
	}

	t.Run("no rule", func(t *testing.T) {
		_, err := testRegistry(t, "a").Select(rules, TaskDecision, 0)
		if !errors.Is(err, ErrNoRule) {
			t.Errorf("err = %v, want ErrNoRule", err)
		}
	})

	t.Run("nothing available", func(t *testing.T) {
		_, err := testRegistry(t).Select(rules, TaskQueryRewriting, 0)
		if !errors.Is(err, ErrNoModel) {
			t.Errorf("err = %v, want ErrNoModel", err)
		}
	})
}

// Within the nominal context length, Select yields exactly the available
// chain members in declared order.
func TestSelectOrderProperty(t *testing.T) {
	all := []string{"a", "b", "c", "d", "e"}
	rng := rand.New(rand.NewSource(7))

	for trial := range 200 {
		chain := append([]string(nil), all...)
		rng.Shuffle(len(chain), func(i, j int) { chain[i], chain[j] = chain[j], chain[i] })
		chain = chain[:1+rng.Intn(len(chain))]

		var avail []string
		for _, id := range all {
			if rng.Intn(2) == 0 {
				avail = append(avail, id)
			}
		}
		reg := testRegistry(t, avail...)
		rules := Rules{TaskSummarization: {PreferredModel: chain[0], FallbackModels: chain[1:]}}

		var want []string
		for _, id := range chain {
			if reg.IsAvailable(id) {
				want = append(want, id)
			}
		}

		got, err := reg.Select(rules, TaskSummarization, 0)
		if len(want) == 0 {
			if !errors.Is(err, ErrNoModel) {
				t.Fatalf("trial %d: err = %v, want ErrNoModel", trial, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		if !reflect.DeepEqual(ids(got), want) {
			t.Fatalf("trial %d: chain %v avail %v: got %v, want %v", trial, chain, avail, ids(got), want)
		}
	}
}

func TestStats(t *testing.T) {
	reg, err := NewRegistry(
		Descriptor{ID: "paid", ProviderID: "p", Cost: CostPaid, Pricing: Pricing{InputPerMillion: 3, OutputPerMillion: 15}},
		Descriptor{ID: "free", ProviderID: "p", Cost: CostFree, Pricing: Pricing{InputPerMillion: 100}},
	)
	if err != nil {
		t.Fatal(err)
	}

	s := NewStats()
	s.RecordSuccess("paid", 100*time.Millisecond, Usage{InputTokens: 1_000_000, OutputTokens: 100_000})
	s.RecordSuccess("paid", 300*time.Millisecond, Usage{})
	s.RecordFailure("paid", true)
	s.RecordSuccess("free", time.Second, Usage{InputTokens: 1_000_000})

	paid := s.Model("paid")
	if paid.Attempts != 3 || paid.Successes != 2 || paid.Failures != 1 || paid.RateLimited != 1 {
		t.Errorf("paid stats = %+v", paid)
	}
	if paid.AverageLatency() != 200*time.Millisecond {
		t.Errorf("AverageLatency() = %v", paid.AverageLatency())
	}
	if paid.Usage.Requests != 2 {
		t.Errorf("Requests = %d, want 2", paid.Usage.Requests)
	}

	if cost := s.EstimatedCost(reg); cost < 4.49 || cost > 4.51 {
		t.Errorf("EstimatedCost() = %f, want 4.5", cost)
	}
	if got := s.Models(); !reflect.DeepEqual(got, []string{"free", "paid"}) {
		t.Errorf("Models() = %v", got)
	}

	s.Reset()
	if total := s.TotalUsage(); total.TotalTokens() != 0 {
		t.Errorf("TotalUsage after reset = %+v", total)
	}
}

func TestStatsConcurrent(t *testing.T) {
	s := NewStats()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				s.RecordSuccess("m", time.Millisecond, Usage{InputTokens: 1})
			} else {
				s.RecordFailure("m", false)
			}
		}()
	}
	wg.Wait()
	if got := s.Model("m").Attempts; got != 50 {
		t.Errorf("Attempts = %d, want 50", got)
	}
}
