package saga

import (
	"testing"
	"time"
)

func orderDefinition(t *testing.T) *SagaDefinition {
	t.Helper()
	def, err := NewDefinition("ORDER_CREATE").
		Step("reserve-stock", "stock.commands").
		Step("charge-payment", "payment.commands").
		Step("create-shipment", "shipment.commands", NoCompensation()).
		ResponseTopic("saga.responses").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return def
}

func TestBuilderAssignsContiguousIndices(t *testing.T) {
	def := orderDefinition(t)

	if def.TotalSteps() != 3 {
		t.Fatalf("TotalSteps() = %d, want 3", def.TotalSteps())
	}
	for i := 0; i < def.TotalSteps(); i++ {
		step, ok := def.Step(i)
		if !ok {
			t.Fatalf("Step(%d) not found", i)
		}
		if step.Index != i {
			t.Fatalf("Step(%d).Index = %d", i, step.Index)
		}
	}
	if _, ok := def.Step(3); ok {
		t.Fatal("Step(3) should not exist")
	}
	if _, ok := def.Step(-1); ok {
		t.Fatal("Step(-1) should not exist")
	}
}

func TestBuilderDefaultsCompensationToCommandTopic(t *testing.T) {
	def := orderDefinition(t)

	step, _ := def.Step(0)
	if !step.HasCompensation {
		t.Fatal("expected step 0 to declare compensation")
	}
	if step.CompensationTopic != "stock.commands" {
		t.Fatalf("CompensationTopic = %q", step.CompensationTopic)
	}

	last, _ := def.Step(2)
	if last.HasCompensation {
		t.Fatal("expected NoCompensation step to not declare compensation")
	}
}

func TestBuilderOptions(t *testing.T) {
	def, err := NewDefinition("PAYMENT").
		Step("authorize", "auth.commands",
			CompensationTopic("auth.cancel.commands"),
			StepTimeout(5*time.Second),
		).
		ResponseTopic("saga.responses").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	step, _ := def.Step(0)
	if step.CompensationTopic != "auth.cancel.commands" {
		t.Fatalf("CompensationTopic = %q", step.CompensationTopic)
	}
	if step.Timeout != 5*time.Second {
		t.Fatalf("Timeout = %s", step.Timeout)
	}
}

func TestBuilderValidation(t *testing.T) {
	cases := []struct {
		name  string
		build func() (*SagaDefinition, error)
	}{
		{"empty type", func() (*SagaDefinition, error) {
			return NewDefinition("").Step("a", "t").ResponseTopic("r").Build()
		}},
		{"no steps", func() (*SagaDefinition, error) {
			return NewDefinition("X").ResponseTopic("r").Build()
		}},
		{"no response topic", func() (*SagaDefinition, error) {
			return NewDefinition("X").Step("a", "t").Build()
		}},
		{"blank step name", func() (*SagaDefinition, error) {
			return NewDefinition("X").Step("  ", "t").ResponseTopic("r").Build()
		}},
		{"duplicate step name", func() (*SagaDefinition, error) {
			return NewDefinition("X").Step("a", "t").Step("a", "t2").ResponseTopic("r").Build()
		}},
		{"blank command topic", func() (*SagaDefinition, error) {
			return NewDefinition("X").Step("a", "").ResponseTopic("r").Build()
		}},
		{"blank compensation topic", func() (*SagaDefinition, error) {
			return NewDefinition("X").Step("a", "t", CompensationTopic(" ")).ResponseTopic("r").Build()
		}},
		{"zero step timeout", func() (*SagaDefinition, error) {
			return NewDefinition("X").Step("a", "t", StepTimeout(0)).ResponseTopic("r").Build()
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.build(); err == nil {
				t.Fatal("expected build error")
			}
		})
	}
}

func TestCompensationStepsReverseOrder(t *testing.T) {
	def, err := NewDefinition("TRIP").
		Step("a", "a.commands").
		Step("b", "b.commands").
		Step("c", "c.commands").
		Step("d", "d.commands", NoCompensation()).
		ResponseTopic("saga.responses").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// Failure at step c (index 2): compensate b then a.
	plan := def.CompensationSteps(1)
	if len(plan) != 2 {
		t.Fatalf("expected 2 compensation steps, got %d", len(plan))
	}
	if plan[0].Name != "b" || plan[1].Name != "a" {
		t.Fatalf("plan order = [%s, %s], want [b, a]", plan[0].Name, plan[1].Name)
	}

	// Index past the end clamps to the full plan, skipping non-compensatable d.
	plan = def.CompensationSteps(10)
	if len(plan) != 3 {
		t.Fatalf("expected 3 compensation steps, got %d", len(plan))
	}
	if plan[0].Name != "c" {
		t.Fatalf("plan[0] = %s, want c", plan[0].Name)
	}

	if got := def.CompensationSteps(-1); len(got) != 0 {
		t.Fatalf("expected empty plan, got %d steps", len(got))
	}
}

func TestDefinitionCloneIsolation(t *testing.T) {
	def := orderDefinition(t)
	steps := def.Steps()
	steps[0].Name = "mutated"

	step, _ := def.Step(0)
	if step.Name != "reserve-stock" {
		t.Fatalf("definition mutated through Steps() copy: %q", step.Name)
	}
}

func TestRegistryDuplicateAndLookup(t *testing.T) {
	def := orderDefinition(t)

	if _, err := NewRegistry(def, def); err == nil {
		t.Fatal("expected duplicate type error")
	}

	registry, err := NewRegistry(def)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if _, err := registry.Get("ORDER_CREATE"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := registry.Get("NOPE"); err == nil {
		t.Fatal("expected unknown saga type error")
	}
	if types := registry.Types(); len(types) != 1 || types[0] != "ORDER_CREATE" {
		t.Fatalf("Types() = %v", types)
	}
}
